// File: cmd/mirror.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/observability"
	"github.com/xkilldash9x/domscope/internal/reporting"
	"github.com/xkilldash9x/domscope/internal/service"
)

type mirrorOptions struct {
	format   string
	output   string
	record   string
	persist  bool
	settle   time.Duration
	interval time.Duration
	count    int
}

func newMirrorCmd(provider service.StoreProvider) *cobra.Command {
	var opts mirrorOptions

	mirrorCmd := &cobra.Command{
		Use:   "mirror <url>",
		Short: "Open a page in Chromium and snapshot its mirrored DOM",
		Long: `Navigates a browser tab to the given URL, binds a local mirror to its document
and keeps it in sync with DOM events. After the settle delay the mirror is
written out as a snapshot; with --interval further snapshots follow until
--count is reached or the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			target, err := normalizeURL(args[0])
			if err != nil {
				return err
			}
			if err := opts.validate(); err != nil {
				return err
			}
			return runMirror(ctx, logger, cfg, target, opts, provider)
		},
	}

	flags := mirrorCmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", "text", fmt.Sprintf("Output format (%s)", strings.Join(reporting.Formats, ", ")))
	flags.StringVarP(&opts.output, "output", "o", "", "Output file path. If unset, the snapshot is printed to stdout.")
	flags.StringVar(&opts.record, "record", "", "Record every inspector message to this transcript (.jsonl, or .jsonl.br for brotli)")
	flags.BoolVar(&opts.persist, "persist", false, "Store each snapshot in PostgreSQL")
	flags.DurationVar(&opts.settle, "settle", 500*time.Millisecond, "Time to let DOM events settle before the first snapshot")
	flags.DurationVar(&opts.interval, "interval", 0, "Take a snapshot every interval instead of once")
	flags.IntVar(&opts.count, "count", 1, "Number of snapshots to take; 0 means until interrupted (requires --interval)")
	flags.Int("depth", 2, "Depth of the initial document fetch; -1 fetches the whole tree")
	flags.Bool("pierce", false, "Include iframe documents and shadow roots in the initial fetch")
	flags.Bool("headless", true, "Run the browser headless")
	flags.Bool("strict", true, "Stop on the first protocol violation")
	flags.String("database-url", "", "PostgreSQL connection string (overrides DOMSCOPE_DATABASE_URL)")

	return mirrorCmd
}

func (o mirrorOptions) validate() error {
	if !isKnownFormat(o.format) {
		return fmt.Errorf("unsupported output format: %s", o.format)
	}
	if o.count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	if o.count != 1 && o.interval <= 0 {
		return fmt.Errorf("--count other than 1 requires a positive --interval")
	}
	return nil
}

func isKnownFormat(format string) bool {
	for _, f := range reporting.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// normalizeURL adds an https scheme to bare hosts.
func normalizeURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "about:") && !strings.HasPrefix(raw, "data:") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "about" && u.Scheme != "data" && u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// runMirror contains the core logic of the mirror command.
func runMirror(ctx context.Context, logger *zap.Logger, cfg config.Interface, target string, opts mirrorOptions, provider service.StoreProvider) (err error) {
	logger.Info("Starting mirror", zap.String("url", target), zap.String("format", opts.format))

	sink, err := openSink(ctx, logger, cfg, opts.format, opts.output, opts.persist, provider)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	components, err := service.NewMirrorComponents(ctx, cfg, logger, opts.record)
	if err != nil {
		return fmt.Errorf("failed to initialize mirror components: %w", err)
	}
	defer func() {
		if loopErr := components.Shutdown(); loopErr != nil && err == nil {
			err = loopErr
		}
	}()

	if err := components.Navigate(ctx, target); err != nil {
		return err
	}

	if !sleepCtx(ctx, opts.settle) {
		return ctx.Err()
	}

	var ticker *time.Ticker
	if opts.interval > 0 {
		ticker = time.NewTicker(opts.interval)
		defer ticker.Stop()
	}

	for taken := 0; opts.count == 0 || taken < opts.count; taken++ {
		if taken > 0 {
			select {
			case <-ctx.Done():
				logger.Info("Mirror interrupted", zap.Int("snapshots", taken))
				return nil
			case <-ticker.C:
			}
		}

		snap, err := components.Snapshot(ctx, target)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to capture snapshot: %w", err)
		}
		if err := sink.Write(snap); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		logger.Info("Snapshot captured",
			zap.String("snapshot_id", snap.ID.String()),
			zap.String("session_id", snap.Session.String()),
			zap.Int("nodes", snap.Root.Count()),
		)
	}
	return nil
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
