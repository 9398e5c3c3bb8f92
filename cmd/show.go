// File: cmd/show.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/observability"
	"github.com/xkilldash9x/domscope/internal/reporting"
	"github.com/xkilldash9x/domscope/internal/service"
)

// newShowCmd creates the `show` command, which prints a stored snapshot.
func newShowCmd(provider service.StoreProvider) *cobra.Command {
	var format, output string

	showCmd := &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Print a snapshot stored with --persist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q: %w", args[0], err)
			}
			return runShow(ctx, logger, cfg, id, format, output, provider)
		},
	}

	showCmd.Flags().StringVarP(&format, "format", "f", "text", fmt.Sprintf("Output format (%s)", strings.Join(reporting.Formats, ", ")))
	showCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path. If unset, the snapshot is printed to stdout.")
	showCmd.Flags().String("database-url", "", "PostgreSQL connection string (overrides DOMSCOPE_DATABASE_URL)")
	return showCmd
}

func runShow(ctx context.Context, logger *zap.Logger, cfg config.Interface, id uuid.UUID, format, output string, provider service.StoreProvider) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	snap, err := st.LoadSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	reporter, err := reporting.New(format, output)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(snap); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	logger.Debug("Snapshot printed", zap.String("snapshot_id", id.String()))
	return nil
}

// newListCmd creates the `list` command, which lists stored snapshots.
func newListCmd(provider service.StoreProvider) *cobra.Command {
	var limit int

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return runList(ctx, cmd.OutOrStdout(), cfg, limit, provider)
		},
	}

	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of snapshots to list")
	listCmd.Flags().String("database-url", "", "PostgreSQL connection string (overrides DOMSCOPE_DATABASE_URL)")
	return listCmd
}

func runList(ctx context.Context, out io.Writer, cfg config.Interface, limit int, provider service.StoreProvider) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	summaries, err := st.ListSnapshots(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCAPTURED\tNODES\tURL")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.CapturedAt.UTC().Format(time.RFC3339), s.NodeCount, s.URL)
	}
	return tw.Flush()
}
