package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"collabboard/backend/internal/board"
	"collabboard/backend/internal/client"
	"collabboard/backend/internal/logging"
	"collabboard/backend/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL  string
		boardID  string
		userID   string
		name     string
		sticky   string
		x, y     float64
		logLevel string
	)
	flagSet := pflag.NewFlagSet("board-client", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "ws://localhost:3000/ws", "websocket endpoint prefix")
	flagSet.StringVarP(&boardID, "board", "b", "", "board to join (required)")
	flagSet.StringVarP(&userID, "user", "u", "", "user id (default: random)")
	flagSet.StringVarP(&name, "name", "n", "", "display name (default: user id)")
	flagSet.StringVar(&sticky, "sticky", "", "create a sticky note with this text once joined")
	flagSet.Float64Var(&x, "x", 100, "x of the sticky note")
	flagSet.Float64Var(&y, "y", 100, "y of the sticky note")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if boardID == "" {
		flagSet.PrintDefaults()
		return fmt.Errorf("--board is required")
	}
	if userID == "" {
		userID = "cli-" + uuid.NewString()[:8]
	}
	if name == "" {
		name = userID
	}

	logger, err := logging.New(logLevel, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	welcomed := make(chan struct{}, 1)
	c := client.New(client.Options{
		BaseURL:  baseURL,
		Identity: protocol.Join{UserID: userID, Name: name},
		Logger:   logger,
		OnState: func(s client.State) {
			fmt.Printf("* %s\n", s)
		},
		OnEvent: func(m protocol.Message) {
			printEvent(m)
			if _, ok := m.(protocol.Welcome); ok {
				select {
				case welcomed <- struct{}{}:
				default:
				}
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Connect(boardID)
	defer c.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-welcomed:
			if sticky == "" {
				continue
			}
			obj := board.Object{
				ID: uuid.NewString(), Type: board.TypeSticky,
				X: x, Y: y, Width: 150, Height: 150,
				ZIndex: c.Mirror().NextZ(), Fill: protocol.StickyColors[0],
				Stroke: "#000000", Opacity: 1, Text: sticky, FontSize: 14,
			}
			if err := c.Apply(board.Create{Object: obj}); err != nil {
				logger.Warn("sticky not sent", zap.Error(err))
			} else {
				fmt.Printf("+ created %s\n", obj.ID)
			}
			sticky = ""
		}
	}
}

func printEvent(m protocol.Message) {
	switch v := m.(type) {
	case protocol.Welcome:
		fmt.Printf("< welcome: %d objects, %d users\n", len(v.Objects), len(v.Users))
	case protocol.Sync:
		fmt.Printf("< sync: %d objects\n", len(v.Objects))
	case protocol.Join:
		fmt.Printf("< %s (%s) joined\n", v.Name, v.UserID)
	case protocol.Leave:
		fmt.Printf("< %s left\n", v.UserID)
	case protocol.Action:
		fmt.Printf("< %s by %s\n", v.Mutation.Kind(), v.UserID)
	case protocol.CursorMessage:
		// too chatty to print
	}
}
