// File: cmd/diff.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/observability"
	"github.com/xkilldash9x/domscope/internal/service"
	"github.com/xkilldash9x/domscope/internal/snapdiff"
)

type diffOptions struct {
	format string
	exact  bool
}

// newDiffCmd creates the `diff` command. Each side is either the id of a
// stored snapshot or a snapshot file written with --format json.
func newDiffCmd(provider service.StoreProvider) *cobra.Command {
	var opts diffOptions

	diffCmd := &cobra.Command{
		Use:   "diff <snapshot-a> <snapshot-b>",
		Short: "Compare two snapshots node by node",
		Long: `Compares two snapshots structurally. Nodes are matched by their path in the
tree, so snapshots from different sessions can be compared. Values that change
on every load (nonces, CSRF tokens, UUIDs, timestamps) are ignored unless
--exact is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("unsupported output format: %s", opts.format)
			}
			return runDiff(ctx, cmd.OutOrStdout(), observability.GetLogger(), cfg, args[0], args[1], opts, provider)
		},
	}

	diffCmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	diffCmd.Flags().BoolVar(&opts.exact, "exact", false, "Compare dynamic-looking values verbatim")
	diffCmd.Flags().String("database-url", "", "PostgreSQL connection string (overrides DOMSCOPE_DATABASE_URL)")
	return diffCmd
}

func runDiff(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, refA, refB string, opts diffOptions, provider service.StoreProvider) error {
	loader := &snapshotLoader{cfg: cfg, provider: provider}
	defer loader.close()

	a, err := loader.load(ctx, refA)
	if err != nil {
		return err
	}
	b, err := loader.load(ctx, refB)
	if err != nil {
		return err
	}

	cmpOpts := snapdiff.DefaultOptions()
	cmpOpts.IgnoreDynamic = !opts.exact
	res, err := snapdiff.New(logger, cmpOpts).Compare(a, b)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(res)
	}
	return writeDiffText(out, res)
}

func writeDiffText(out io.Writer, res *snapdiff.Result) error {
	if res.Equivalent {
		_, err := fmt.Fprintf(out, "Snapshots are equivalent (%d nodes compared).\n", res.Compared)
		return err
	}
	for _, ch := range res.Changes {
		var err error
		switch ch.Kind {
		case snapdiff.Added:
			_, err = fmt.Fprintf(out, "+ %s (%d nodes)\n", ch.Path, ch.Nodes)
		case snapdiff.Removed:
			_, err = fmt.Fprintf(out, "- %s (%d nodes)\n", ch.Path, ch.Nodes)
		default:
			_, err = fmt.Fprintf(out, "~ %s\n%s", ch.Path, ch.Diff)
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(out, res.Summary())
	return err
}

// snapshotLoader opens the store on first use.
type snapshotLoader struct {
	cfg      config.Interface
	provider service.StoreProvider
	store    service.SnapshotStore
	cleanup  func()
}

func (l *snapshotLoader) load(ctx context.Context, ref string) (*mirror.Snapshot, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return readSnapshotFile(ref)
	}
	if l.store == nil {
		st, cleanup, err := l.provider.Create(ctx, l.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		l.store, l.cleanup = st, cleanup
	}
	snap, err := l.store.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (l *snapshotLoader) close() {
	if l.cleanup != nil {
		l.cleanup()
	}
}

func readSnapshotFile(path string) (*mirror.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap mirror.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file %s: %w", path, err)
	}
	return &snap, nil
}
