// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/agent"
	"github.com/xkilldash9x/domscope/internal/backend/chrome"
	"github.com/xkilldash9x/domscope/internal/backend/replay"
	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

// persistTimeout bounds a single snapshot write. It runs on its own context
// so that a snapshot taken right before shutdown still reaches the database.
const persistTimeout = 30 * time.Second

// SnapshotSaver is the part of SnapshotStore the consumer needs.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *mirror.Snapshot) error
}

// NewMirrorComponents launches a browser, attaches a chrome backend to its
// first tab, and starts an agent loop over it. When recordPath is set every
// backend message is also written to that transcript.
func NewMirrorComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, recordPath string) (*Components, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, BrowserExecOptions(cfg.Browser())...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	browserCancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run allocates the browser and binds its lifetime to tabCtx.
	if err := chromedp.Run(tabCtx); err != nil {
		browserCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Debug("Browser started.", zap.Bool("headless", cfg.Browser().Headless))

	var opts []chrome.Option
	var recorder *replay.Writer
	if recordPath != "" {
		w, err := replay.Create(recordPath)
		if err != nil {
			browserCancel()
			return nil, err
		}
		recorder = w
		opts = append(opts, chrome.WithRecorder(w))
		logger.Info("Recording transcript.", zap.String("path", recordPath))
	}

	backend := chrome.New(tabCtx, cfg.Backend(), logger, opts...)
	backend.Listen(tabCtx)

	c := assemble(backend, backend.Messages(), cfg.Mirror(), logger)
	c.Chrome = backend
	c.Recorder = recorder
	c.TabCtx = tabCtx
	c.navigationTimeout = cfg.Browser().NavigationTimeout
	c.browserCancel = browserCancel
	return c, nil
}

// NewReplayComponents starts an agent loop over a replay backend. The loop
// exits on its own once Play has delivered the whole transcript.
func NewReplayComponents(cfg config.Interface, logger *zap.Logger) *Components {
	backend := replay.New(logger, cfg.Backend().EventBuffer)
	c := assemble(backend, backend.Messages(), cfg.Mirror(), logger)
	c.Replay = backend
	return c
}

// assemble creates the agent and runs its loop until Shutdown or until
// inbound closes.
func assemble(backend agent.Backend, inbound <-chan protocol.Message, mirrorCfg config.MirrorConfig, logger *zap.Logger) *Components {
	hooks := agent.Hooks{
		DocumentSet: func(doc *mirror.Document) {
			if doc == nil {
				logger.Debug("Mirror unbound.")
				return
			}
			logger.Debug("Document bound.", zap.Int64("root_id", int64(doc.Root().ID())))
		},
	}
	a := agent.New(backend, logger, hooks)
	loop := agent.NewLoop(a, inbound, mirrorCfg.Strict, logger)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(loopCtx)
	}()

	return &Components{
		Loop:       loop,
		agent:      a,
		mirrorCfg:  mirrorCfg,
		loopCancel: cancel,
		loopDone:   done,
	}
}

// StartSnapshotConsumer launches a goroutine that persists every snapshot
// received on snapshots until the channel is closed. It manages its lifecycle
// using the provided WaitGroup.
func StartSnapshotConsumer(ctx context.Context, wg *sync.WaitGroup, snapshots <-chan *mirror.Snapshot, s SnapshotSaver, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Snapshot consumer started.")
		defer logger.Debug("Snapshot consumer shut down.")

		persist := func(snap *mirror.Snapshot) {
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := s.SaveSnapshot(persistCtx, snap); err != nil {
				logger.Error("Failed to persist snapshot.", zap.String("snapshot_id", snap.ID.String()), zap.Error(err))
				return
			}
			logger.Info("Snapshot persisted.", zap.String("snapshot_id", snap.ID.String()))
		}

		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				persist(snap)

			case <-ctx.Done():
				// Drain whatever is already buffered before exiting.
				for {
					select {
					case snap, ok := <-snapshots:
						if !ok {
							return
						}
						persist(snap)
					default:
						return
					}
				}
			}
		}
	}()
}
