// internal/agent/loop.go
package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/protocol"
)

type action struct {
	fn   func(*Agent)
	done chan struct{}
}

// Loop is the single goroutine that owns an Agent. Backend messages and
// caller actions are applied one at a time, in arrival order.
type Loop struct {
	agent   *Agent
	inbound <-chan protocol.Message
	actions chan action
	stopped chan struct{}
	strict  bool
	logger  *zap.Logger
}

// NewLoop wires an agent to the message stream of its backend. In strict mode
// the first protocol violation stops the loop; otherwise the offending
// message is logged and dropped.
func NewLoop(a *Agent, inbound <-chan protocol.Message, strict bool, logger *zap.Logger) *Loop {
	return &Loop{
		agent:   a,
		inbound: inbound,
		actions: make(chan action),
		stopped: make(chan struct{}),
		strict:  strict,
		logger:  logger.Named("loop"),
	}
}

// Run processes messages until ctx is done, the inbound stream closes (nil
// error), or a violation occurs in strict mode. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	l.logger.Debug("Agent loop started", zap.Bool("strict", l.strict))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-l.inbound:
			if !ok {
				l.logger.Debug("Inbound message stream closed")
				return nil
			}
			if err := l.agent.Handle(msg); err != nil {
				if l.strict {
					l.logger.Error("Stopping on protocol violation",
						zap.String("method", string(msg.Method())),
						zap.String("session_id", l.agent.Session().String()),
						zap.Error(err),
					)
					return err
				}
				l.logger.Error("Dropping message the mirror cannot apply",
					zap.String("method", string(msg.Method())),
					zap.String("session_id", l.agent.Session().String()),
					zap.Error(err),
				)
			}

		case act := <-l.actions:
			act.fn(l.agent)
			close(act.done)
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish. ctx bounds
// only the wait for the loop to take fn; once taken, Do returns after fn
// does, so fn may write to variables the caller reads afterwards.
func (l *Loop) Do(ctx context.Context, fn func(*Agent)) error {
	act := action{fn: fn, done: make(chan struct{})}
	select {
	case l.actions <- act:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-act.done
	return nil
}

// IsViolation reports whether err came from a message the mirror could not apply.
func IsViolation(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
