package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Helix/internal/supervisor"
)

func probeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Wait until the backend answers its readiness endpoint, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			level := slog.LevelInfo
			if cfg.Debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			probe := supervisor.NewHTTPProbe(cfg.ProbeURL(), cfg.Backend.ProbeTimeout.Duration)
			start := time.Now()
			attempts, err := supervisor.WaitUntilReady(ctx, probe, cfg.Backend.PollInterval.Duration, nil)
			if err != nil {
				return fmt.Errorf("backend at %s not ready after %d attempts: %w", cfg.ProbeURL(), attempts, err)
			}
			fmt.Printf("ready: %s (%d attempts, %s)\n", cfg.ProbeURL(), attempts, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}
