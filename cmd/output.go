// File: cmd/output.go
package cmd

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/reporting"
	"github.com/xkilldash9x/domscope/internal/service"
)

// snapshotSink sends each snapshot to a reporter and, with persistence
// enabled, to the snapshot consumer.
type snapshotSink struct {
	logger   *zap.Logger
	reporter reporting.Reporter
	persist  chan *mirror.Snapshot
	wg       sync.WaitGroup
	cleanup  func()
	written  int
}

func openSink(ctx context.Context, logger *zap.Logger, cfg config.Interface, format, output string, persist bool, provider service.StoreProvider) (*snapshotSink, error) {
	reporter, err := reporting.New(format, output)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reporter: %w", err)
	}
	sink := &snapshotSink{logger: logger, reporter: reporter}
	if !persist {
		return sink, nil
	}

	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		_ = reporter.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	sink.cleanup = cleanup
	sink.persist = make(chan *mirror.Snapshot, 16)
	service.StartSnapshotConsumer(ctx, &sink.wg, sink.persist, st, logger)
	return sink, nil
}

func (s *snapshotSink) Write(snap *mirror.Snapshot) error {
	if err := s.reporter.Write(snap); err != nil {
		return err
	}
	s.written++
	if s.persist != nil {
		s.persist <- snap
	}
	return nil
}

// Close waits for pending writes to the store, then finalizes the report.
func (s *snapshotSink) Close() error {
	if s.persist != nil {
		close(s.persist)
		s.wg.Wait()
	}
	if s.cleanup != nil {
		s.cleanup()
	}
	if err := s.reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	s.logger.Debug("Report finalized.", zap.Int("snapshots", s.written))
	return nil
}
