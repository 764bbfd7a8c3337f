package events

import (
	"encoding/json"
	"time"
)

const EventActionCommitted = "ACTION_COMMITTED"

// ActionEvent is published once per committed action. Revision orders the
// events of one board; consumers reorder by it since workers publish in parallel.
type ActionEvent struct {
	EventType   string          `json:"eventType"`
	BoardID     string          `json:"boardId"`
	Revision    uint64          `json:"revision"`
	UserID      string          `json:"userId"`
	Action      json.RawMessage `json:"action"`
	CommittedAt time.Time       `json:"committedAt"`
}
