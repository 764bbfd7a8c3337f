package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
	"collabboard/backend/internal/room"
)

type scripted struct {
	mu        sync.Mutex
	responses []*Response
	requests  []Request
	err       error
}

func (s *scripted) Complete(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &Response{StopReason: "end_turn"}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type frames struct{ got [][]byte }

func (f *frames) Send(p []byte) error {
	f.got = append(f.got, p)
	return nil
}

func toolUse(id, name, input string) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("obj-%d", n)
	}
}

func newAgent(c Completer, reg *room.Registry) *Agent {
	return New(c, reg, Options{NewID: sequentialIDs()})
}

func TestHandleWithoutCompleter(t *testing.T) {
	a := New(nil, room.NewRegistry(), Options{})
	assert.False(t, a.Configured())
	_, err := a.Handle(context.Background(), "b1", "u1", "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHandleCommitsToolCallsAsOneBatch(t *testing.T) {
	reg := room.NewRegistry()
	watcher := &frames{}
	require.NoError(t, reg.GetOrCreateRoom("b1").Join("s1", protocol.Join{UserID: "w"}, watcher))
	watcher.got = nil

	c := &scripted{responses: []*Response{{
		StopReason: "end_turn",
		Content: []ContentBlock{
			{Type: "text", Text: "Added two notes."},
			toolUse("t1", "createStickyNote", `{"text":"Strengths","x":10,"y":20}`),
			toolUse("t2", "createShape", `{"shapeType":"circle","x":300,"y":20,"width":80,"height":80}`),
			toolUse("t3", "getBoardState", `{}`),
		},
	}}}

	res, err := newAgent(c, reg).Handle(context.Background(), "b1", "u1", "make a swot")
	require.NoError(t, err)
	assert.Equal(t, "Added two notes.", res.Message)
	assert.Equal(t, 2, res.Actions)

	r, _ := reg.Room("b1")
	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap.Revision)

	note := snap.Objects["obj-1"]
	assert.Equal(t, board.TypeSticky, note.Type)
	assert.Equal(t, "Strengths", note.Text)
	assert.Equal(t, "#FFF176", note.Fill)
	assert.Equal(t, 150.0, note.Width)
	assert.Equal(t, 0.0, note.ZIndex)
	assert.Equal(t, 14.0, note.FontSize)
	assert.Equal(t, 1.0, note.Opacity)

	circle := snap.Objects["obj-2"]
	assert.Equal(t, board.TypeCircle, circle.Type)
	assert.Equal(t, "#45475a", circle.Fill)
	assert.Equal(t, "#585b70", circle.Stroke)
	assert.Equal(t, 2.0, circle.StrokeWidth)
	assert.Equal(t, 1.0, circle.ZIndex)

	require.Len(t, watcher.got, 1)
	msg, err := protocol.Decode(watcher.got[0])
	require.NoError(t, err)
	action := msg.(protocol.Action)
	assert.Equal(t, UserID, action.UserID)
	assert.Equal(t, board.KindBatch, action.Mutation.Kind())
}

func TestHandleSingleToolCallIsNotBatched(t *testing.T) {
	reg := room.NewRegistry()
	r := reg.GetOrCreateRoom("b1")
	_, err := r.Commit(protocol.Action{UserID: "u1", Mutation: board.Create{Object: board.Object{ID: "a", Type: board.TypeRect}}}, nil, "")
	require.NoError(t, err)

	watcher := &frames{}
	require.NoError(t, r.Join("s1", protocol.Join{UserID: "w"}, watcher))
	watcher.got = nil

	c := &scripted{responses: []*Response{{
		StopReason: "end_turn",
		Content:    []ContentBlock{toolUse("t1", "moveObject", `{"objectId":"a","x":40,"y":50}`)},
	}}}
	res, err := newAgent(c, reg).Handle(context.Background(), "b1", "u1", "move it")
	require.NoError(t, err)
	assert.Equal(t, "Done! Applied 1 change(s).", res.Message)

	o := r.Snapshot().Objects["a"]
	assert.Equal(t, 40.0, o.X)
	assert.Equal(t, 50.0, o.Y)

	require.Len(t, watcher.got, 1)
	assert.Contains(t, string(watcher.got[0]), `"object:update"`)
}

func TestHandleFollowsUpOnToolUse(t *testing.T) {
	reg := room.NewRegistry()
	c := &scripted{responses: []*Response{
		{
			StopReason: "tool_use",
			Content: []ContentBlock{
				{Type: "text", Text: "Creating a frame. "},
				toolUse("t1", "createFrame", `{"title":"Retro","x":0,"y":0,"width":600,"height":400}`),
			},
		},
		{
			StopReason: "end_turn",
			Content: []ContentBlock{
				{Type: "text", Text: "Done."},
				toolUse("t2", "createStickyNote", `{"text":"Went well","x":20,"y":40,"color":"#A5D6A7"}`),
			},
		},
	}}

	res, err := newAgent(c, reg).Handle(context.Background(), "b1", "u1", "retro please")
	require.NoError(t, err)
	assert.Equal(t, "Creating a frame. Done.", res.Message)
	assert.Equal(t, 2, res.Actions)

	require.Len(t, c.requests, 2)
	follow := c.requests[1].Messages
	require.Len(t, follow, 3)
	assert.Equal(t, "assistant", follow[1].Role)
	require.Len(t, follow[2].Content, 1)
	assert.Equal(t, "tool_result", follow[2].Content[0].Type)
	assert.Equal(t, "t1", follow[2].Content[0].ToolUseID)

	r, _ := reg.Room("b1")
	snap := r.Snapshot()
	assert.Equal(t, uint64(2), snap.Revision)
	frame := snap.Objects["obj-1"]
	assert.Equal(t, "Retro", frame.Text)
	assert.Equal(t, board.TypeFrame, frame.Type)
	assert.Equal(t, "#A5D6A7", snap.Objects["obj-2"].Fill)
	assert.Equal(t, 1.0, snap.Objects["obj-2"].ZIndex)
}

func TestHandleSkipsBadToolInput(t *testing.T) {
	reg := room.NewRegistry()
	c := &scripted{responses: []*Response{{
		StopReason: "end_turn",
		Content: []ContentBlock{
			toolUse("t1", "deleteObject", `{}`),
			toolUse("t2", "launchRocket", `{"objectId":"x"}`),
		},
	}}}
	res, err := newAgent(c, reg).Handle(context.Background(), "b1", "u1", "?")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Actions)

	r, _ := reg.Room("b1")
	assert.Equal(t, uint64(0), r.Revision())
}

func TestHandleReturnsCompleterError(t *testing.T) {
	c := &scripted{err: errors.New("upstream down")}
	_, err := newAgent(c, room.NewRegistry()).Handle(context.Background(), "b1", "u1", "hi")
	assert.EqualError(t, err, "upstream down")
}

func TestSystemPromptListsAtMostHundredObjects(t *testing.T) {
	reg := room.NewRegistry()
	r := reg.GetOrCreateRoom("b1")
	for i := 0; i < 120; i++ {
		o := board.Object{ID: fmt.Sprintf("o%03d", i), Type: board.TypeSticky, ZIndex: float64(i), Text: strings.Repeat("x", 80)}
		_, err := r.Commit(protocol.Action{UserID: "u1", Mutation: board.Create{Object: o}}, nil, "")
		require.NoError(t, err)
	}

	c := &scripted{}
	_, err := newAgent(c, reg).Handle(context.Background(), "b1", "u1", "summarize")
	require.NoError(t, err)

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Len(t, req.Tools, 9)
	assert.Contains(t, req.System, "(100 objects)")
	assert.Contains(t, req.System, `"o099"`)
	assert.NotContains(t, req.System, `"o100"`)
	assert.NotContains(t, req.System, strings.Repeat("x", 51))
}

func TestTranslateUpdates(t *testing.T) {
	b := &builder{newID: sequentialIDs()}

	m, err := b.translate("changeColor", json.RawMessage(`{"objectId":"a","color":"#fff"}`))
	require.NoError(t, err)
	u := m.(board.Update)
	assert.Equal(t, "#fff", *u.Props.Fill)
	assert.Nil(t, u.Props.X)

	m, err = b.translate("resizeObject", json.RawMessage(`{"objectId":"a","width":10,"height":20}`))
	require.NoError(t, err)
	u = m.(board.Update)
	assert.Equal(t, 10.0, *u.Props.Width)
	assert.Equal(t, 20.0, *u.Props.Height)

	m, err = b.translate("updateText", json.RawMessage(`{"objectId":"a","newText":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", *m.(board.Update).Props.Text)

	_, err = b.translate("createShape", json.RawMessage(`{"shapeType":"rect","x":1}`))
	assert.ErrorIs(t, err, ErrBadToolInput)

	_, err = b.translate("moveObject", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrBadToolInput)
}
