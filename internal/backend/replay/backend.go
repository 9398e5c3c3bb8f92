// internal/backend/replay/backend.go
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/agent"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

var _ agent.Backend = (*Backend)(nil)

// Stats summarizes one Play run.
type Stats struct {
	Played   int
	Skipped  int
	Answered int
}

// Backend feeds a recorded transcript to the agent. There is no live page
// behind it, so every request is answered with a failure; recorded responses
// are skipped because their call ids belong to the recording session.
type Backend struct {
	logger *zap.Logger
	out    chan protocol.Message
	wake   chan struct{}

	mu      sync.Mutex
	answers []protocol.Response
	stats   Stats
}

// New creates a replay backend whose message channel holds buffer messages.
func New(logger *zap.Logger, buffer int) *Backend {
	return &Backend{
		logger: logger.Named("replay_backend"),
		out:    make(chan protocol.Message, buffer),
		wake:   make(chan struct{}, 1),
	}
}

// Messages is the inbound stream for the agent loop. Play closes it when it
// returns.
func (b *Backend) Messages() <-chan protocol.Message { return b.out }

// Stats returns the counters of the current or last Play run.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

type readResult struct {
	msg protocol.Message
	err error
}

// Play forwards src to Messages until the source ends, fails, or ctx is
// cancelled, interleaving the answers to any requests made meanwhile. It
// returns nil at the end of a finite source. Play must be called once.
func (b *Backend) Play(ctx context.Context, src Source) error {
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan readResult)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.read(ctx, src, results)
	}()
	defer func() {
		cancel()
		wg.Wait()
		close(b.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-b.wake:
			if !b.flush(ctx) {
				return ctx.Err()
			}

		case r := <-results:
			if errors.Is(r.err, io.EOF) {
				if !b.flush(ctx) {
					return ctx.Err()
				}
				stats := b.Stats()
				b.logger.Info("Transcript finished",
					zap.Int("played", stats.Played),
					zap.Int("skipped", stats.Skipped),
					zap.Int("answered", stats.Answered),
				)
				return nil
			}
			if r.err != nil {
				return fmt.Errorf("failed to read transcript: %w", r.err)
			}

			if resp, ok := r.msg.(protocol.Response); ok {
				b.logger.Debug("Skipping recorded response",
					zap.String("method", string(resp.Method())),
					zap.Uint64("call_id", uint64(resp.CallID())),
				)
				b.count(func(s *Stats) { s.Skipped++ })
				continue
			}
			if !b.send(ctx, r.msg) {
				return ctx.Err()
			}
			b.count(func(s *Stats) { s.Played++ })
		}
	}
}

func (b *Backend) read(ctx context.Context, src Source, results chan<- readResult) {
	for {
		msg, err := src.Next(ctx)
		select {
		case results <- readResult{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Backend) send(ctx context.Context, msg protocol.Message) bool {
	select {
	case b.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// flush delivers every queued answer.
func (b *Backend) flush(ctx context.Context) bool {
	b.mu.Lock()
	queued := b.answers
	b.answers = nil
	b.mu.Unlock()

	for _, resp := range queued {
		if !b.send(ctx, resp) {
			return false
		}
		b.count(func(s *Stats) { s.Answered++ })
	}
	return true
}

func (b *Backend) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

// answer queues resp and wakes Play. It never blocks.
func (b *Backend) answer(resp protocol.Response) {
	b.mu.Lock()
	b.answers = append(b.answers, resp)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// -- agent.Backend --

func (b *Backend) GetChildNodes(call protocol.CallID, _ mirror.NodeID) {
	b.answer(protocol.Ack{Call: call})
}

func (b *Backend) SetAttribute(call protocol.CallID, _ mirror.NodeID, _, _ string) {
	b.answer(protocol.Ack{Call: call})
}

func (b *Backend) RemoveAttribute(call protocol.CallID, _ mirror.NodeID, _ string) {
	b.answer(protocol.Ack{Call: call})
}

func (b *Backend) SetTextNodeValue(call protocol.CallID, _ mirror.NodeID, _ string) {
	b.answer(protocol.Ack{Call: call})
}

func (b *Backend) GetCookies(call protocol.CallID, _ string) {
	b.answer(protocol.CookiesResult{Call: call})
}

func (b *Backend) GetEventListenersForNode(call protocol.CallID, _ mirror.NodeID) {
	b.answer(protocol.EventListenersResult{Call: call})
}

func (b *Backend) GetStyles(call protocol.CallID, _ mirror.NodeID) {
	b.answer(protocol.StylesResult{Call: call})
}
