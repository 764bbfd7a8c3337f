package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
)

var ErrBadToolInput = errors.New("bad tool input")

const (
	toolCreateSticky = "createStickyNote"
	toolCreateShape  = "createShape"
	toolCreateFrame  = "createFrame"
	toolMove         = "moveObject"
	toolUpdateText   = "updateText"
	toolChangeColor  = "changeColor"
	toolDelete       = "deleteObject"
	toolResize       = "resizeObject"
	toolBoardState   = "getBoardState"
)

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// Tools is the tool set offered to the model.
var Tools = []Tool{
	{
		Name:        toolCreateSticky,
		Description: "Create a sticky note on the board",
		InputSchema: schema(`{"type":"object","required":["text","x","y"],"properties":{` +
			`"text":{"type":"string","description":"Text content of the sticky note"},` +
			`"x":{"type":"number","description":"X position on the board"},` +
			`"y":{"type":"number","description":"Y position on the board"},` +
			`"color":{"type":"string","description":"Background color (default: #FFF176)","enum":["#FFF176","#80DEEA","#A5D6A7","#F48FB1","#FFAB91","#CE93D8"]}}}`),
	},
	{
		Name:        toolCreateShape,
		Description: "Create a geometric shape on the board",
		InputSchema: schema(`{"type":"object","required":["shapeType","x","y","width","height"],"properties":{` +
			`"shapeType":{"type":"string","enum":["rect","circle"],"description":"Type of shape"},` +
			`"x":{"type":"number"},"y":{"type":"number"},"width":{"type":"number"},"height":{"type":"number"},` +
			`"color":{"type":"string","description":"Fill color"}}}`),
	},
	{
		Name:        toolCreateFrame,
		Description: "Create a frame (grouping container) on the board",
		InputSchema: schema(`{"type":"object","required":["title","x","y","width","height"],"properties":{` +
			`"title":{"type":"string"},"x":{"type":"number"},"y":{"type":"number"},` +
			`"width":{"type":"number"},"height":{"type":"number"}}}`),
	},
	{
		Name:        toolMove,
		Description: "Move an existing object to a new position",
		InputSchema: schema(`{"type":"object","required":["objectId","x","y"],"properties":{` +
			`"objectId":{"type":"string"},"x":{"type":"number"},"y":{"type":"number"}}}`),
	},
	{
		Name:        toolUpdateText,
		Description: "Update the text content of a sticky note or text element",
		InputSchema: schema(`{"type":"object","required":["objectId","newText"],"properties":{` +
			`"objectId":{"type":"string"},"newText":{"type":"string"}}}`),
	},
	{
		Name:        toolChangeColor,
		Description: "Change the color of an existing object",
		InputSchema: schema(`{"type":"object","required":["objectId","color"],"properties":{` +
			`"objectId":{"type":"string"},"color":{"type":"string"}}}`),
	},
	{
		Name:        toolDelete,
		Description: "Delete an object from the board",
		InputSchema: schema(`{"type":"object","required":["objectId"],"properties":{"objectId":{"type":"string"}}}`),
	},
	{
		Name:        toolResize,
		Description: "Resize an existing object",
		InputSchema: schema(`{"type":"object","required":["objectId","width","height"],"properties":{` +
			`"objectId":{"type":"string"},"width":{"type":"number"},"height":{"type":"number"}}}`),
	},
	{
		Name:        toolBoardState,
		Description: "Get current objects on the board for context",
		InputSchema: schema(`{"type":"object","properties":{}}`),
	},
}

type toolInput struct {
	Text      *string  `json:"text"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Width     *float64 `json:"width"`
	Height    *float64 `json:"height"`
	Color     string   `json:"color"`
	ShapeType string   `json:"shapeType"`
	Title     string   `json:"title"`
	ObjectID  string   `json:"objectId"`
	NewText   *string  `json:"newText"`
}

// builder turns tool calls into mutations. Created objects get ids from
// newID and stacking positions counting up from z.
type builder struct {
	newID func() string
	z     float64
}

func baseObject(id string, t board.ObjectType, z float64) board.Object {
	return board.Object{
		ID:       id,
		Type:     t,
		ZIndex:   z,
		Stroke:   "#000000",
		Opacity:  1,
		FontSize: 14,
	}
}

// translate returns the mutation for one tool call, or nil for read-only
// and unknown tools.
func (b *builder) translate(name string, raw json.RawMessage) (board.Mutation, error) {
	var in toolInput
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadToolInput, name, err)
		}
	}

	switch name {
	case toolCreateSticky:
		if in.X == nil || in.Y == nil {
			return nil, fmt.Errorf("%w: %s needs x and y", ErrBadToolInput, name)
		}
		o := b.object(board.TypeSticky)
		o.X, o.Y = *in.X, *in.Y
		o.Width, o.Height = 150, 150
		o.Fill = protocol.StickyColors[0]
		if in.Color != "" {
			o.Fill = in.Color
		}
		if in.Text != nil {
			o.Text = *in.Text
		}
		return board.Create{Object: o}, nil

	case toolCreateShape:
		if in.X == nil || in.Y == nil || in.Width == nil || in.Height == nil {
			return nil, fmt.Errorf("%w: %s needs x, y and a size", ErrBadToolInput, name)
		}
		t := board.TypeRect
		if in.ShapeType == string(board.TypeCircle) {
			t = board.TypeCircle
		}
		o := b.object(t)
		o.X, o.Y, o.Width, o.Height = *in.X, *in.Y, *in.Width, *in.Height
		o.Fill = "#45475a"
		if in.Color != "" {
			o.Fill = in.Color
		}
		o.Stroke, o.StrokeWidth = "#585b70", 2
		return board.Create{Object: o}, nil

	case toolCreateFrame:
		if in.X == nil || in.Y == nil || in.Width == nil || in.Height == nil {
			return nil, fmt.Errorf("%w: %s needs x, y and a size", ErrBadToolInput, name)
		}
		o := b.object(board.TypeFrame)
		o.X, o.Y, o.Width, o.Height = *in.X, *in.Y, *in.Width, *in.Height
		o.Fill = "rgba(255,255,255,0.03)"
		o.Stroke, o.StrokeWidth = "#585b70", 2
		o.Text = in.Title
		return board.Create{Object: o}, nil

	case toolMove:
		if in.ObjectID == "" || in.X == nil || in.Y == nil {
			return nil, fmt.Errorf("%w: %s needs objectId, x and y", ErrBadToolInput, name)
		}
		return board.Update{ID: in.ObjectID, Props: board.Props{X: in.X, Y: in.Y}}, nil

	case toolUpdateText:
		if in.ObjectID == "" || in.NewText == nil {
			return nil, fmt.Errorf("%w: %s needs objectId and newText", ErrBadToolInput, name)
		}
		return board.Update{ID: in.ObjectID, Props: board.Props{Text: in.NewText}}, nil

	case toolChangeColor:
		if in.ObjectID == "" || in.Color == "" {
			return nil, fmt.Errorf("%w: %s needs objectId and color", ErrBadToolInput, name)
		}
		return board.Update{ID: in.ObjectID, Props: board.Props{Fill: board.String(in.Color)}}, nil

	case toolDelete:
		if in.ObjectID == "" {
			return nil, fmt.Errorf("%w: %s needs objectId", ErrBadToolInput, name)
		}
		return board.Delete{ID: in.ObjectID}, nil

	case toolResize:
		if in.ObjectID == "" || in.Width == nil || in.Height == nil {
			return nil, fmt.Errorf("%w: %s needs objectId and a size", ErrBadToolInput, name)
		}
		return board.Update{ID: in.ObjectID, Props: board.Props{Width: in.Width, Height: in.Height}}, nil
	}
	return nil, nil
}

func (b *builder) object(t board.ObjectType) board.Object {
	o := baseObject(b.newID(), t, b.z)
	b.z++
	return o
}
