package board

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the wire tag of a mutation.
type Kind string

const (
	KindCreate Kind = "object:create"
	KindUpdate Kind = "object:update"
	KindDelete Kind = "object:delete"
	KindBatch  Kind = "object:batch"
)

// maxBatchDepth bounds nested batches on decode.
const maxBatchDepth = 8

var (
	ErrUnknownMutation = errors.New("unknown mutation type")
	ErrInvalidMutation = errors.New("invalid mutation")
)

// Mutation is one of Create, Update, Delete or Batch. The set is closed.
type Mutation interface {
	Kind() Kind
	isMutation()
}

// Create puts Object on the board, overwriting any object with the same id.
type Create struct {
	Object Object
}

// Update assigns Props onto the object with ID. Missing ids are ignored.
type Update struct {
	ID    string
	Props Props
}

// Delete removes ID. Missing ids are ignored.
type Delete struct {
	ID string
}

// Batch applies Mutations strictly in order.
type Batch struct {
	Mutations []Mutation
	// Skipped counts entries with an unknown tag dropped during decode.
	Skipped int
}

func (Create) Kind() Kind { return KindCreate }
func (Update) Kind() Kind { return KindUpdate }
func (Delete) Kind() Kind { return KindDelete }
func (Batch) Kind() Kind  { return KindBatch }

func (Create) isMutation() {}
func (Update) isMutation() {}
func (Delete) isMutation() {}
func (Batch) isMutation()  {}

// wireMutation is the JSON shape shared by every mutation kind.
type wireMutation struct {
	Type    Kind              `json:"type"`
	Object  *Object           `json:"object,omitempty"`
	ID      string            `json:"id,omitempty"`
	Props   *Props            `json:"props,omitempty"`
	Actions []json.RawMessage `json:"actions,omitempty"`
}

func (m Create) MarshalJSON() ([]byte, error) {
	obj := m.Object
	return json.Marshal(wireMutation{Type: KindCreate, Object: &obj})
}

func (m Update) MarshalJSON() ([]byte, error) {
	props := m.Props
	return json.Marshal(wireMutation{Type: KindUpdate, ID: m.ID, Props: &props})
}

func (m Delete) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMutation{Type: KindDelete, ID: m.ID})
}

func (m Batch) MarshalJSON() ([]byte, error) {
	actions := make([]json.RawMessage, 0, len(m.Mutations))
	for _, sub := range m.Mutations {
		raw, err := json.Marshal(sub)
		if err != nil {
			return nil, err
		}
		actions = append(actions, raw)
	}
	// actions must stay present even when empty
	return json.Marshal(struct {
		Type    Kind              `json:"type"`
		Actions []json.RawMessage `json:"actions"`
	}{KindBatch, actions})
}

// DecodeMutation parses and validates one mutation.
// An unrecognised top-level tag yields ErrUnknownMutation. Inside a batch,
// entries with an unrecognised tag are dropped and counted in Batch.Skipped;
// any other invalid entry rejects the whole batch.
func DecodeMutation(data []byte) (Mutation, error) {
	return decodeMutation(data, 0)
}

func decodeMutation(data []byte, depth int) (Mutation, error) {
	var w wireMutation
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}

	switch w.Type {
	case KindCreate:
		if w.Object == nil || w.Object.ID == "" {
			return nil, fmt.Errorf("%w: create without object id", ErrInvalidMutation)
		}
		if !w.Object.Type.Valid() {
			return nil, fmt.Errorf("%w: object type %q", ErrInvalidMutation, w.Object.Type)
		}
		return Create{Object: *w.Object}, nil

	case KindUpdate:
		if w.ID == "" {
			return nil, fmt.Errorf("%w: update without id", ErrInvalidMutation)
		}
		var props Props
		if w.Props != nil {
			props = *w.Props
		}
		if props.Type != nil && !props.Type.Valid() {
			return nil, fmt.Errorf("%w: object type %q", ErrInvalidMutation, *props.Type)
		}
		return Update{ID: w.ID, Props: props}, nil

	case KindDelete:
		if w.ID == "" {
			return nil, fmt.Errorf("%w: delete without id", ErrInvalidMutation)
		}
		return Delete{ID: w.ID}, nil

	case KindBatch:
		if depth >= maxBatchDepth {
			return nil, fmt.Errorf("%w: batch nested deeper than %d", ErrInvalidMutation, maxBatchDepth)
		}
		b := Batch{Mutations: make([]Mutation, 0, len(w.Actions))}
		for i, raw := range w.Actions {
			sub, err := decodeMutation(raw, depth+1)
			if errors.Is(err, ErrUnknownMutation) {
				b.Skipped++
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("batch entry %d: %w", i, err)
			}
			b.Mutations = append(b.Mutations, sub)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutation, w.Type)
	}
}
