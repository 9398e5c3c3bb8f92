// File: cmd/replay.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/domscope/internal/backend/replay"
	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/observability"
	"github.com/xkilldash9x/domscope/internal/reporting"
	"github.com/xkilldash9x/domscope/internal/service"
)

type replayOptions struct {
	format  string
	output  string
	persist bool
}

func newReplayCmd(provider service.StoreProvider) *cobra.Command {
	var opts replayOptions

	replayCmd := &cobra.Command{
		Use:   "replay <transcript>",
		Short: "Rebuild a mirror from a recorded transcript",
		Long: `Feeds a transcript written by 'mirror --record' through a fresh mirror and
prints the resulting snapshot. Requests the mirror makes during replay are
answered as failures. With --follow the transcript is tailed until the
command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if !isKnownFormat(opts.format) {
				return fmt.Errorf("unsupported output format: %s", opts.format)
			}
			return runReplay(ctx, logger, cfg, args[0], opts, provider)
		},
	}

	flags := replayCmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", "text", fmt.Sprintf("Output format (%s)", strings.Join(reporting.Formats, ", ")))
	flags.StringVarP(&opts.output, "output", "o", "", "Output file path. If unset, the snapshot is printed to stdout.")
	flags.BoolVar(&opts.persist, "persist", false, "Store the snapshot in PostgreSQL")
	flags.Bool("follow", false, "Keep reading as the transcript grows")
	flags.Bool("poll", false, "Poll the transcript instead of using file notifications (with --follow)")
	flags.Bool("strict", true, "Stop on the first protocol violation")
	flags.String("database-url", "", "PostgreSQL connection string (overrides DOMSCOPE_DATABASE_URL)")

	return replayCmd
}

// runReplay contains the core logic of the replay command.
func runReplay(ctx context.Context, logger *zap.Logger, cfg config.Interface, path string, opts replayOptions, provider service.StoreProvider) (err error) {
	logger.Info("Replaying transcript", zap.String("path", path), zap.Bool("follow", cfg.Replay().Follow))

	src, err := replay.NewSource(path, cfg.Replay())
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := openSink(ctx, logger, cfg, opts.format, opts.output, opts.persist, provider)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	components := service.NewReplayComponents(cfg, logger)
	defer func() { _ = components.Shutdown() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return components.Replay.Play(gctx, src)
	})
	g.Go(components.Wait)

	if err := g.Wait(); err != nil {
		// An interrupt ends a followed transcript; keep what was mirrored so far.
		if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			return err
		}
		logger.Info("Replay interrupted")
	}

	stats := components.Replay.Stats()
	logger.Info("Replay complete",
		zap.Int("played", stats.Played),
		zap.Int("skipped", stats.Skipped),
		zap.Int("answered", stats.Answered),
	)

	snap, err := components.Snapshot(context.Background(), "")
	if err != nil {
		return fmt.Errorf("failed to capture snapshot: %w", err)
	}
	return sink.Write(snap)
}
