package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

func startLoop(t *testing.T, strict bool) (*Loop, chan protocol.Message, chan error, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{}
	logger := zaptest.NewLogger(t)
	inbound := make(chan protocol.Message, 8)
	loop := NewLoop(New(b, logger, Hooks{}), inbound, strict, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(context.Background()) }()
	return loop, inbound, errCh, b
}

func waitStopped(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
		return nil
	}
}

func TestLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	t.Run("should apply messages before later actions", func(t *testing.T) {
		loop, inbound, errCh, b := startLoop(t, true)
		inbound <- protocol.DocumentSet{Root: documentPayload()}
		inbound <- protocol.ChildNodesSet{ParentID: 4, Nodes: []*mirror.NodePayload{elem(5, "P")}}

		var count int
		require.Eventually(t, func() bool {
			assert.NoError(t, loop.Do(ctx, func(a *Agent) { count = a.NodeCount() }))
			return count == 5
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, loop.Do(ctx, func(a *Agent) {
			assert.NoError(t, a.NodeForID(5).SetAttribute("id", "p", nil))
		}))
		require.Len(t, b.calls, 1)
		inbound <- protocol.Ack{Call: b.calls[0].call, Success: true}

		require.Eventually(t, func() bool {
			var v string
			assert.NoError(t, loop.Do(ctx, func(a *Agent) { v, _ = a.NodeForID(5).Attribute("id") }))
			return v == "p"
		}, time.Second, 5*time.Millisecond)

		close(inbound)
		assert.NoError(t, waitStopped(t, errCh))
		assert.ErrorIs(t, loop.Do(ctx, func(*Agent) {}), ErrLoopStopped)
	})

	t.Run("should stop on the first violation in strict mode", func(t *testing.T) {
		_, inbound, errCh, _ := startLoop(t, true)
		inbound <- protocol.ChildNodesSet{ParentID: 9}

		err := waitStopped(t, errCh)
		assert.ErrorIs(t, err, ErrUnknownNode)
		assert.True(t, IsViolation(err))
	})

	t.Run("should drop violations and keep going when lenient", func(t *testing.T) {
		loop, inbound, errCh, _ := startLoop(t, false)
		inbound <- protocol.ChildNodesSet{ParentID: 9}
		inbound <- protocol.DocumentSet{Root: documentPayload()}

		require.Eventually(t, func() bool {
			bound := false
			assert.NoError(t, loop.Do(ctx, func(a *Agent) { bound = a.Document() != nil }))
			return bound
		}, time.Second, 5*time.Millisecond)

		close(inbound)
		assert.NoError(t, waitStopped(t, errCh))
	})

	t.Run("should return the context error on cancellation", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		loop := NewLoop(New(&fakeBackend{}, logger, Hooks{}), make(chan protocol.Message), true, logger)
		runCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- loop.Run(runCtx) }()

		cancel()
		assert.ErrorIs(t, waitStopped(t, errCh), context.Canceled)
	})

	t.Run("should wait for a running action even after the caller context ends", func(t *testing.T) {
		loop, inbound, errCh, _ := startLoop(t, true)
		doCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		started, release := make(chan struct{}), make(chan struct{})
		var snapshotted bool
		doErr := make(chan error, 1)
		go func() {
			doErr <- loop.Do(doCtx, func(*Agent) {
				close(started)
				<-release
				snapshotted = true
			})
		}()

		<-started
		cancel()
		select {
		case err := <-doErr:
			t.Fatalf("Do returned (%v) while the action was still running", err)
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		require.NoError(t, <-doErr)
		assert.True(t, snapshotted, "the action's writes are visible once Do returns")

		close(inbound)
		assert.NoError(t, waitStopped(t, errCh))
	})

	t.Run("should honor the caller context in Do", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		loop := NewLoop(New(&fakeBackend{}, logger, Hooks{}), make(chan protocol.Message), true, logger)
		doCtx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, loop.Do(doCtx, func(*Agent) {}), context.Canceled)
	})
}
