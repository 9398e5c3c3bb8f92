// File: internal/service/components.go
package service

import (
	"context"
	"errors"
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
	"github.com/xkilldash9x/domscope/internal/observability"
)

// Components holds one agent, the loop that owns it, and the backend feeding
// it. Exactly one of Chrome and Replay is set.
type Components struct {
	Loop     *agent.Loop
	Chrome   *chrome.Backend
	Replay   *replay.Backend
	Recorder *replay.Writer
	// TabCtx is the chromedp context of the mirrored tab.
	TabCtx context.Context

	agent             *agent.Agent
	mirrorCfg         config.MirrorConfig
	navigationTimeout time.Duration

	loopCancel    context.CancelFunc
	loopDone      chan error
	waitOnce      sync.Once
	loopErr       error
	browserCancel func()
}

// Navigate loads url in the tab and then binds the mirror to its document.
func (c *Components) Navigate(ctx context.Context, url string) error {
	if c.Chrome == nil {
		return fmt.Errorf("navigation requires a browser backend")
	}

	navCtx, cancel := context.WithTimeout(c.TabCtx, c.navigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := c.Chrome.Start(ctx, c.mirrorCfg.DocumentDepth, c.mirrorCfg.Pierce); err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	return nil
}

// Snapshot captures the mirrored document. While the loop runs the capture
// happens on the loop goroutine; once it has exited the agent is read directly.
func (c *Components) Snapshot(ctx context.Context, url string) (*mirror.Snapshot, error) {
	var (
		snap    *mirror.Snapshot
		snapErr error
	)
	err := c.Loop.Do(ctx, func(a *agent.Agent) {
		snap, snapErr = a.Snapshot(url)
	})
	if errors.Is(err, agent.ErrLoopStopped) {
		if loopErr := c.Wait(); loopErr != nil {
			return nil, loopErr
		}
		snap, snapErr = c.agent.Snapshot(url)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return snap, snapErr
}

// Wait blocks until the loop goroutine has exited and returns its error.
// Cancellation through Shutdown is not an error.
func (c *Components) Wait() error {
	c.waitOnce.Do(func() {
		err := <-c.loopDone
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		c.loopErr = err
	})
	return c.loopErr
}

// Shutdown stops the loop, then the backend, the browser and the recorder, in
// that order. It returns the error that stopped the loop, if any.
func (c *Components) Shutdown() error {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the consumer of backend messages.
	if c.loopCancel != nil {
		c.loopCancel()
	}
	loopErr := c.Wait()

	// 2. Stop the producers.
	if c.Chrome != nil {
		c.Chrome.Close()
		logger.Debug("Browser backend closed.")
	}
	if c.browserCancel != nil {
		c.browserCancel()
		logger.Debug("Browser shut down.")
	}

	// 3. Flush the transcript last so it holds everything the backend emitted.
	if c.Recorder != nil {
		if err := c.Recorder.Close(); err != nil {
			logger.Warn("Failed to close transcript.", zap.Error(err))
		}
	}

	if loopErr != nil {
		logger.Warn("Agent loop stopped with an error.", zap.Error(loopErr))
	}
	return loopErr
}
