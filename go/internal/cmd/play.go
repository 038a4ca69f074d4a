package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/client"
	"github.com/mcdev12/buzzer/go/internal/clocksync"
	"github.com/mcdev12/buzzer/go/internal/gateway"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	URL  string
	Code string
	Name string
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a session and buzz with Enter",
		Long: `Join a session as a player. The clock offset to the broker is estimated
right after joining; every Enter press is sent with the local press time so
the broker can rank it fairly. Type quit to leave.

Example:
  buzzer play --code QUIZ1 --name Alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "broker websocket URL")
	cmd.Flags().StringVar(&opts.Code, "code", "", "session code (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func runPlay(ctx context.Context, opts *PlayOptions, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := client.Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Emit(buzzer.EventJoinSession, gateway.JoinSessionRequest{SessionCode: opts.Code, Name: opts.Name}); err != nil {
		return err
	}
	env, err := c.Next(ctx, buzzer.EventJoinedSession, buzzer.EventErrorMsg)
	if err != nil {
		return fmt.Errorf("waiting to join: %w", err)
	}
	fmt.Fprintln(out, describe(env))
	if env.Type == buzzer.EventErrorMsg {
		return fmt.Errorf("could not join %s", opts.Code)
	}

	var joined buzzer.SessionJoined
	if err := env.Decode(&joined); err != nil {
		return err
	}

	est := clocksync.NewEstimator(c, nil, clocksync.DefaultConfig())
	est.Start(ctx)
	go func() {
		select {
		case <-est.Done():
			fmt.Fprintf(out, "clock offset %+.1fms\n", est.Offset())
		case <-ctx.Done():
		}
	}()

	go func() {
		printEvents(ctx, c, out)
		cancel()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "quit" {
				return nil
			}
			pressedAt := time.Now().UnixMilli()
			err := c.Emit(buzzer.EventPressBuzzer, gateway.PressBuzzerRequest{
				SessionCode:          joined.SessionCode,
				ClientTime:           &pressedAt,
				ClientToServerOffset: est.Offset(),
			})
			if err != nil {
				return err
			}
		}
	}
}
