package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/protocol"
	"collabboard/backend/internal/room"
)

var ErrNotConfigured = errors.New("ai not configured")

// UserID tags every action the agent commits.
const UserID = "ai-agent"

// contextLimit caps how many objects are described to the model.
const contextLimit = 100

// Rooms opens the room of a board, seeding it if needed.
type Rooms interface {
	Open(ctx context.Context, boardID string) (*room.Room, error)
}

type Options struct {
	Model     string
	MaxTokens int
	Logger    *zap.Logger
	// NewID generates object ids; uuid.NewString when nil.
	NewID func() string
}

// Agent turns a natural-language request into board mutations and commits
// them to the live room like any other author.
type Agent struct {
	completer Completer
	rooms     Rooms
	opts      Options
	logger    *zap.Logger
}

// New returns an Agent. A nil completer makes every request fail with
// ErrNotConfigured.
func New(completer Completer, rooms Rooms, opts Options) *Agent {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Agent{completer: completer, rooms: rooms, opts: opts, logger: opts.Logger}
}

func (a *Agent) Configured() bool { return a.completer != nil }

type Result struct {
	Message string `json:"message"`
	// Actions counts the mutations committed to the board.
	Actions int `json:"actions"`
}

// Handle runs one request against boardID on behalf of userID.
func (a *Agent) Handle(ctx context.Context, boardID, userID, message string) (Result, error) {
	if a.completer == nil {
		return Result{}, ErrNotConfigured
	}
	r, err := a.rooms.Open(ctx, boardID)
	if err != nil {
		return Result{}, err
	}
	objects := r.Ordered()
	log := a.logger.With(zap.String("board", boardID), zap.String("user", userID))

	req := Request{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		System:    systemPrompt(objects),
		Tools:     Tools,
		Messages:  []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: message}}}},
	}
	resp, err := a.completer.Complete(ctx, req)
	if err != nil {
		return Result{}, err
	}

	b := &builder{newID: a.opts.NewID, z: float64(len(objects))}
	var text strings.Builder
	committed := a.apply(r, b, resp, &text, log)

	if resp.StopReason == "tool_use" {
		req.Messages = append(req.Messages,
			Message{Role: "assistant", Content: resp.Content},
			Message{Role: "user", Content: toolResults(resp)},
		)
		follow, err := a.completer.Complete(ctx, req)
		if err != nil {
			log.Warn("follow-up request failed", zap.Error(err))
		} else {
			committed += a.apply(r, b, follow, &text, log)
		}
	}

	out := text.String()
	if out == "" {
		out = fmt.Sprintf("Done! Applied %d change(s).", committed)
	}
	return Result{Message: out, Actions: committed}, nil
}

// apply collects the text and tool calls of resp and commits the mutations
// as one action. It returns the number of mutations committed.
func (a *Agent) apply(r *room.Room, b *builder, resp *Response, text *strings.Builder, log *zap.Logger) int {
	var muts []board.Mutation
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			m, err := b.translate(block.Name, block.Input)
			if err != nil {
				log.Warn("tool call skipped", zap.String("tool", block.Name), zap.Error(err))
				continue
			}
			if m != nil {
				muts = append(muts, m)
			}
		}
	}
	if len(muts) == 0 {
		return 0
	}

	var m board.Mutation = board.Batch{Mutations: muts}
	if len(muts) == 1 {
		m = muts[0]
	}
	rev, err := r.Commit(protocol.Action{Mutation: m, UserID: UserID}, nil, "")
	if err != nil {
		log.Warn("agent action not committed", zap.Error(err))
		return 0
	}
	log.Info("agent action committed", zap.Int("mutations", len(muts)), zap.Uint64("revision", rev))
	return len(muts)
}

func toolResults(resp *Response) []ContentBlock {
	var out []ContentBlock
	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			out = append(out, ContentBlock{Type: "tool_result", ToolUseID: block.ID, Content: `{"success":true}`})
		}
	}
	return out
}

type objectSummary struct {
	ID     string           `json:"id"`
	Type   board.ObjectType `json:"type"`
	X      float64          `json:"x"`
	Y      float64          `json:"y"`
	Width  float64          `json:"width"`
	Height float64          `json:"height"`
	Text   string           `json:"text,omitempty"`
	Fill   string           `json:"fill,omitempty"`
}

func summarize(objects []board.Object) []objectSummary {
	if len(objects) > contextLimit {
		objects = objects[:contextLimit]
	}
	out := make([]objectSummary, 0, len(objects))
	for _, o := range objects {
		text := []rune(o.Text)
		if len(text) > 50 {
			text = text[:50]
		}
		out = append(out, objectSummary{
			ID: o.ID, Type: o.Type,
			X: math.Round(o.X), Y: math.Round(o.Y),
			Width: math.Round(o.Width), Height: math.Round(o.Height),
			Text: string(text), Fill: o.Fill,
		})
	}
	return out
}

func systemPrompt(objects []board.Object) string {
	summary := summarize(objects)
	state, _ := json.MarshalIndent(summary, "", "  ")

	var sb strings.Builder
	sb.WriteString("You are the assistant of a shared whiteboard. You change the board only through the tools you are given.\n\n")
	sb.WriteString("Coordinates: the origin is the top-left corner, x grows to the right and y grows downwards, in pixels. ")
	sb.WriteString("At zoom 1 the visible area is about 1920 by 1080.\n\n")
	sb.WriteString("Sticky note colors: " + strings.Join(protocol.StickyColors, ", ") + ". The first one is the default.\n\n")
	sb.WriteString("Build templates such as SWOT or retrospectives from frames holding sticky notes, and leave 20 to 40 pixels between items.\n\n")
	fmt.Fprintf(&sb, "Current board (%d objects):\n%s\n\n", len(summary), state)
	sb.WriteString("Carry out the request with tool calls, using several calls when needed.")
	return sb.String()
}
