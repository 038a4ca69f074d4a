package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/client"
	"github.com/mcdev12/buzzer/go/internal/gateway"
)

// HostOptions holds flags for the host command.
type HostOptions struct {
	*RootOptions
	URL    string
	Code   string
	Resume bool
}

// NewHostCommand creates the host command.
func NewHostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a session and run it from the terminal",
		Long: `Create a session, or take over an existing one with --resume, and drive it
with commands read from stdin:

  start [delay-ms]   arm the round
  reset              disarm and clear buzzes
  save               commit the leading buzz as the round winner
  history            show committed rounds
  close              end the session
  quit               disconnect, leaving the session open

Example:
  buzzer host --code QUIZ1
  buzzer host --code QUIZ1 --resume`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Resume && opts.Code == "" {
				return fmt.Errorf("--resume needs --code")
			}
			return runHost(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "broker websocket URL")
	cmd.Flags().StringVar(&opts.Code, "code", "", "session code; generated when empty")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "take over an existing session as admin")

	return cmd
}

func runHost(ctx context.Context, opts *HostOptions, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := client.Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.Resume {
		err = c.Emit(buzzer.EventReconnectSession, gateway.ReconnectSessionRequest{
			Role: string(buzzer.RoleAdmin),
			Code: opts.Code,
		})
	} else {
		err = c.Emit(buzzer.EventCreateSession, gateway.CreateSessionRequest{SessionCode: opts.Code})
	}
	if err != nil {
		return err
	}

	env, err := c.Next(ctx, buzzer.EventSessionCreated, buzzer.EventSessionClosed)
	if err != nil {
		return fmt.Errorf("waiting for session: %w", err)
	}
	fmt.Fprintln(out, describe(env))
	if env.Type == buzzer.EventSessionClosed {
		return fmt.Errorf("session %s is closed", opts.Code)
	}

	var joined buzzer.SessionJoined
	if err := env.Decode(&joined); err != nil {
		return err
	}
	code := joined.SessionCode

	done := make(chan struct{})
	go func() {
		defer close(done)
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
			<-done
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := hostCommand(c, code, line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if quit {
				return nil
			}
		}
	}
}

// hostCommand sends the event for one stdin line.
func hostCommand(c *client.Client, code, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "start":
		req := gateway.StartTimerRequest{SessionCode: code}
		if len(fields) > 1 {
			ms, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return false, fmt.Errorf("bad delay %q", fields[1])
			}
			req.DelayMs = &ms
		}
		return false, c.Emit(buzzer.EventStartTimer, req)
	case "reset":
		return false, c.Emit(buzzer.EventResetTimer, gateway.SessionRequest{SessionCode: code})
	case "save":
		return false, c.Emit(buzzer.EventSaveWinner, gateway.SessionRequest{SessionCode: code})
	case "history":
		return false, c.Emit(buzzer.EventGetHistory, gateway.SessionRequest{SessionCode: code})
	case "close":
		return false, c.Emit(buzzer.EventCloseSession, gateway.SessionRequest{SessionCode: code})
	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q", fields[0])
}
