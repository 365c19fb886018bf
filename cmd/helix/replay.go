package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Helix/internal/stream"
)

func replayCmd() *cobra.Command {
	var chunk int

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Feed a captured response stream through the consumer and print its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read capture: %w", err)
			}

			ctx := cmd.Context()

			out := cmd.OutOrStdout()
			src := stream.NewChunksSource(stream.SplitEvery(data, chunk)...)
			res, err := stream.Consume(ctx, src, stream.Sink{
				OnToken: func(delta string) { fmt.Fprint(out, delta) },
			}, stream.WithLabel("replay"))
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "status=%s tokens=%d dropped=%d\n", res.Status, res.Tokens, res.Dropped)
			if res.BackendError != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "backend error: %s\n", res.BackendError)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&chunk, "chunk", stream.DefaultReadBuffer, "Bytes per chunk fed to the consumer")
	return cmd
}
