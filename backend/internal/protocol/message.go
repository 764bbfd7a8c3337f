package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"collabboard/backend/internal/board"
)

type Type string

const (
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
	TypeWelcome Type = "welcome"
	TypeCursor  Type = "cursor"
	TypeAction  Type = "action"
	TypeSync    Type = "sync"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is the closed set of frames exchanged on a board connection.
type Message interface {
	MessageType() Type
}

// Join is sent by a client as its first frame, and relayed by the server to
// the rest of the room as the join notification.
type Join struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

type Leave struct {
	UserID string `json:"userId"`
}

type Presence struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Online bool   `json:"online"`
}

// Welcome carries the full room state to a freshly joined connection.
type Welcome struct {
	Users   []Presence              `json:"users"`
	Objects map[string]board.Object `json:"objects"`
}

type Cursor struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type CursorMessage struct {
	Cursor Cursor `json:"cursor"`
}

// Action is a mutation plus the user that authored it.
type Action struct {
	Mutation board.Mutation
	UserID   string
}

// Sync replaces the receiver's object mirror.
type Sync struct {
	Objects map[string]board.Object `json:"objects"`
}

func (Join) MessageType() Type          { return TypeJoin }
func (Leave) MessageType() Type         { return TypeLeave }
func (Welcome) MessageType() Type       { return TypeWelcome }
func (CursorMessage) MessageType() Type { return TypeCursor }
func (Action) MessageType() Type        { return TypeAction }
func (Sync) MessageType() Type          { return TypeSync }

type envelope struct {
	Type Type `json:"type"`
}

type actionWire struct {
	Type   Type            `json:"type"`
	Action json.RawMessage `json:"action"`
	UserID string          `json:"userId"`
}

// Decode parses one frame into its concrete message type.
// Frames that are not JSON objects return ErrMalformed, frames with an
// unrecognised type return ErrUnknownType, and frames missing required
// fields return ErrInvalidMessage. An action whose mutation kind is unknown
// wraps board.ErrUnknownMutation.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeJoin:
		var m Join
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: join without userId", ErrInvalidMessage)
		}
		return m, nil

	case TypeLeave:
		var m Leave
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeWelcome:
		var m Welcome
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Objects == nil {
			m.Objects = map[string]board.Object{}
		}
		return m, nil

	case TypeCursor:
		var m CursorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeAction:
		var w actionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(w.Action) == 0 || string(w.Action) == "null" {
			return nil, fmt.Errorf("%w: action without mutation", ErrInvalidMessage)
		}
		mut, err := board.DecodeMutation(w.Action)
		if err != nil {
			return nil, err
		}
		return Action{Mutation: mut, UserID: w.UserID}, nil

	case TypeSync:
		var m Sync
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Objects == nil {
			m.Objects = map[string]board.Object{}
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Encode renders m with its type tag.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case Join:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Join
		}{TypeJoin, m})
	case Leave:
		return json.Marshal(struct {
			Type Type `json:"type"`
			Leave
		}{TypeLeave, m})
	case Welcome:
		if m.Users == nil {
			m.Users = []Presence{}
		}
		if m.Objects == nil {
			m.Objects = map[string]board.Object{}
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			Welcome
		}{TypeWelcome, m})
	case CursorMessage:
		return json.Marshal(struct {
			Type Type `json:"type"`
			CursorMessage
		}{TypeCursor, m})
	case Action:
		if m.Mutation == nil {
			return nil, fmt.Errorf("%w: action without mutation", ErrInvalidMessage)
		}
		raw, err := json.Marshal(m.Mutation)
		if err != nil {
			return nil, err
		}
		return json.Marshal(actionWire{Type: TypeAction, Action: raw, UserID: m.UserID})
	case Sync:
		if m.Objects == nil {
			m.Objects = map[string]board.Object{}
		}
		return json.Marshal(struct {
			Type Type `json:"type"`
			Sync
		}{TypeSync, m})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}
