package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/buzzer/go/internal/client"
	"github.com/mcdev12/buzzer/go/internal/clocksync"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	URL      string
	Probes   int
	Interval time.Duration
	Timeout  time.Duration
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}
	defaults := clocksync.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Estimate this machine's clock offset to a broker",
		Long: `Run the same round-trip probes a player runs after joining and print
each sample with the resulting offset.

Example:
  buzzer probe --url ws://localhost:8080/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "broker websocket URL")
	cmd.Flags().IntVar(&opts.Probes, "probes", defaults.Probes, "round trips to run (at least 5)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", defaults.Interval, "pause between probes")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall deadline")

	return cmd
}

func runProbe(ctx context.Context, opts *ProbeOptions, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := client.Dial(ctx, opts.URL)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := clocksync.DefaultConfig()
	cfg.Probes = opts.Probes
	cfg.Interval = opts.Interval
	est := clocksync.NewEstimator(c, nil, cfg)
	offset := est.Run(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe interrupted: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSENT\tSERVER\tRECEIVED\tRTT\tOFFSET")
	for i, s := range est.Samples() {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%dms\t%+.1fms\n",
			i+1, s.SentAt, s.ServerTime, s.ReceivedAt, s.ReceivedAt-s.SentAt, s.Offset)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "offset: %+.1fms (%d samples)\n", offset, len(est.Samples()))
	return nil
}
