// internal/backend/chrome/backend.go
package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domdebugger"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/domscope/internal/agent"
	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/mirror"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

const documentReloadTimeout = 30 * time.Second

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("chrome backend closed")

var _ agent.Backend = (*Backend)(nil)

// Executor runs chromedp actions against the inspected tab.
type Executor interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
}

// Recorder receives every message the backend emits, in emission order.
type Recorder interface {
	Record(msg protocol.Message) error
}

// tabExecutor runs actions on the tab's chromedp context, bounded by the
// caller's deadline.
type tabExecutor struct {
	tab context.Context
}

func (e tabExecutor) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(e.tab, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// combineContext derives from primary, which carries the CDP target, and is
// cancelled when either context is.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// Option configures a Backend.
type Option func(*Backend)

// WithRecorder records every emitted message.
func WithRecorder(r Recorder) Option {
	return func(b *Backend) { b.recorder = r }
}

// WithExecutor replaces the executor bound to the tab context.
func WithExecutor(e Executor) Option {
	return func(b *Backend) { b.exec = e }
}

// Backend implements agent.Backend over the Chrome DevTools Protocol. DOM
// events and request results are delivered in order on Messages. Requests run
// in their own goroutines, throttled by a rate limiter and bounded by the
// configured request timeout.
type Backend struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	exec     Executor
	limiter  *rate.Limiter
	timeout  time.Duration
	recorder Recorder

	out  chan protocol.Message
	done chan struct{}
	// emitMu keeps recording order identical to delivery order.
	emitMu sync.Mutex

	mu     sync.Mutex
	closed bool
	depth  int
	pierce bool
	sheets map[css.StyleSheetID]string
	// loading counts document fetches in flight. Events seen meanwhile are
	// held and delivered after the fetched document.
	loading int
	held    []protocol.Message

	// loadMu serializes document fetches.
	loadMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a backend for the chromedp tab context tab.
func New(tab context.Context, cfg config.BackendConfig, logger *zap.Logger, opts ...Option) *Backend {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("chrome_backend"),
		exec:    tabExecutor{tab: tab},
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.RequestTimeout,
		out:     make(chan protocol.Message, cfg.EventBuffer),
		done:    make(chan struct{}),
		depth:   -1,
		sheets:  make(map[css.StyleSheetID]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Messages is the inbound stream for the agent loop. It is never closed; the
// loop stops through its context.
func (b *Backend) Messages() <-chan protocol.Message { return b.out }

// Listen subscribes to the tab's DOM and CSS events.
func (b *Backend) Listen(tab context.Context) {
	chromedp.ListenTarget(tab, b.handleEvent)
}

// Start enables the DOM and CSS domains and loads the initial document.
// Events are held from here until the document has been emitted.
func (b *Backend) Start(ctx context.Context, depth int, pierce bool) error {
	if !b.beginLoad(depth, pierce) {
		return ErrClosed
	}
	if err := b.exec.Run(ctx, dom.Enable(), css.Enable()); err != nil {
		return b.finishLoad(nil, fmt.Errorf("failed to enable DOM and CSS domains: %w", err))
	}
	return b.loadDocument(ctx, depth, pierce)
}

// LoadDocument fetches the document to the given depth and emits it. The
// depth and pierce settings are kept for reloads after documentUpdated.
func (b *Backend) LoadDocument(ctx context.Context, depth int, pierce bool) error {
	if !b.beginLoad(depth, pierce) {
		return ErrClosed
	}
	return b.loadDocument(ctx, depth, pierce)
}

// beginLoad marks a document fetch as in flight.
func (b *Backend) beginLoad(depth int, pierce bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.depth, b.pierce = depth, pierce
	b.loading++
	return true
}

// loadDocument runs one fetch started by beginLoad.
func (b *Backend) loadDocument(ctx context.Context, depth int, pierce bool) error {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	var root *cdp.Node
	err := b.exec.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		root, err = dom.GetDocument().WithDepth(int64(depth)).WithPierce(pierce).Do(c)
		return err
	}))
	switch {
	case err != nil:
		err = fmt.Errorf("failed to get document: %w", err)
	case root == nil:
		err = errors.New("backend returned an empty document")
	}
	if err := b.finishLoad(root, err); err != nil {
		return err
	}
	b.logger.Debug("Document loaded", zap.Int64("node_id", int64(root.NodeID)), zap.Int("depth", depth))
	return nil
}

// finishLoad emits the fetched document followed by the events held while
// it was in flight. Held events are dropped when the fetch failed or when
// another fetch is still pending, since a later document replaces them.
func (b *Backend) finishLoad(root *cdp.Node, loadErr error) error {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.loading--
	held := b.held
	b.held = nil
	last := b.loading == 0
	b.mu.Unlock()

	if loadErr != nil || !last {
		if len(held) > 0 {
			b.logger.Debug("Dropped events held during a document load", zap.Int("events", len(held)), zap.Bool("failed", loadErr != nil))
		}
		if loadErr != nil {
			return loadErr
		}
	}

	for _, msg := range withFrameRoots(protocol.DocumentSet{Root: nodePayload(root)}, root) {
		if !b.send(msg) {
			return ErrClosed
		}
	}
	if !last {
		return nil
	}
	for _, msg := range held {
		if !b.send(msg) {
			return ErrClosed
		}
	}
	return nil
}

// Close stops outstanding requests and waits for them to return.
func (b *Backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	close(b.done)
	b.wg.Wait()
}

// -- Events --

func (b *Backend) handleEvent(ev interface{}) {
	select {
	case <-b.done:
		return
	default:
	}

	switch ev := ev.(type) {
	case *css.EventStyleSheetAdded:
		if ev.Header != nil {
			b.mu.Lock()
			b.sheets[ev.Header.StyleSheetID] = ev.Header.SourceURL
			b.mu.Unlock()
		}
		return
	case *css.EventStyleSheetRemoved:
		b.mu.Lock()
		delete(b.sheets, ev.StyleSheetID)
		b.mu.Unlock()
		return
	case *dom.EventDocumentUpdated:
		b.reloadDocument()
		return
	}

	msgs := translateEvent(ev)
	if len(msgs) == 0 {
		return
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	if b.loading > 0 {
		b.held = append(b.held, msgs...)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	for _, msg := range msgs {
		if !b.send(msg) {
			return
		}
	}
}

// reloadDocument refetches the document after the backend invalidated every
// node id. It runs off the event goroutine so the response can be received.
func (b *Backend) reloadDocument() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	depth, pierce := b.depth, b.pierce
	// Counted before returning to the event goroutine so that every later
	// event is held for the new document.
	b.loading++
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, documentReloadTimeout)
		defer cancel()
		if err := b.loadDocument(ctx, depth, pierce); err != nil && !errors.Is(err, ErrClosed) {
			b.logger.Warn("Failed to reload document", zap.Error(err))
		}
	}()
}

func (b *Backend) sheetURL(id css.StyleSheetID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sheets[id]
}

// emit delivers msg unless the backend is closed. It reports whether the
// message was delivered.
func (b *Backend) emit(msg protocol.Message) bool {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	return b.send(msg)
}

// send records and delivers msg. The caller holds emitMu.
func (b *Backend) send(msg protocol.Message) bool {
	if b.recorder != nil {
		if err := b.recorder.Record(msg); err != nil {
			b.logger.Warn("Failed to record message", zap.String("method", string(msg.Method())), zap.Error(err))
		}
	}
	select {
	case b.out <- msg:
		return true
	case <-b.done:
		return false
	}
}

// -- Requests --

// request runs fn in the background and emits its response, or fail when the
// limiter, the timeout or the command itself gives up.
func (b *Backend) request(method string, call protocol.CallID, fail protocol.Response, fn func(ctx context.Context) (protocol.Response, error)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()

		resp := fail
		if err := b.limiter.Wait(ctx); err != nil {
			b.logger.Debug("Request throttled out", zap.String("method", method), zap.Uint64("call_id", uint64(call)), zap.Error(err))
		} else if r, err := fn(ctx); err != nil {
			b.logger.Debug("Request failed", zap.String("method", method), zap.Uint64("call_id", uint64(call)), zap.Error(err))
		} else {
			resp = r
		}
		b.emit(resp)
	}()
}

func (b *Backend) ack(method string, call protocol.CallID, action chromedp.Action) {
	b.request(method, call, protocol.Ack{Call: call}, func(ctx context.Context) (protocol.Response, error) {
		if err := b.exec.Run(ctx, action); err != nil {
			return nil, err
		}
		return protocol.Ack{Call: call, Success: true}, nil
	})
}

func (b *Backend) GetChildNodes(call protocol.CallID, id mirror.NodeID) {
	b.ack("DOM.requestChildNodes", call, dom.RequestChildNodes(cdp.NodeID(id)))
}

func (b *Backend) SetAttribute(call protocol.CallID, id mirror.NodeID, name, value string) {
	b.ack("DOM.setAttributeValue", call, dom.SetAttributeValue(cdp.NodeID(id), name, value))
}

func (b *Backend) RemoveAttribute(call protocol.CallID, id mirror.NodeID, name string) {
	b.ack("DOM.removeAttribute", call, dom.RemoveAttribute(cdp.NodeID(id), name))
}

func (b *Backend) SetTextNodeValue(call protocol.CallID, id mirror.NodeID, value string) {
	b.ack("DOM.setNodeValue", call, dom.SetNodeValue(cdp.NodeID(id), value))
}

// GetCookies returns the browser's cookies for domain, or every cookie when
// domain is empty. Results are always structured.
func (b *Backend) GetCookies(call protocol.CallID, domain string) {
	b.request("Network.getCookies", call, protocol.CookiesResult{Call: call}, func(ctx context.Context) (protocol.Response, error) {
		var cs []*network.Cookie
		err := b.exec.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			params := network.GetCookies()
			if domain != "" {
				params = params.WithURLs([]string{"https://" + domain + "/", "http://" + domain + "/"})
			}
			var err error
			cs, err = params.Do(c)
			return err
		}))
		if err != nil {
			return nil, err
		}
		return protocol.CookiesResult{Call: call, Success: true, Cookies: translateCookies(cs)}, nil
	})
}

func (b *Backend) GetEventListenersForNode(call protocol.CallID, id mirror.NodeID) {
	b.request("DOMDebugger.getEventListeners", call, protocol.EventListenersResult{Call: call}, func(ctx context.Context) (protocol.Response, error) {
		var listeners []*domdebugger.EventListener
		err := b.exec.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			obj, err := dom.ResolveNode().WithNodeID(cdp.NodeID(id)).Do(c)
			if err != nil {
				return err
			}
			if obj == nil || obj.ObjectID == "" {
				return fmt.Errorf("node %d did not resolve to an object", id)
			}
			defer func() {
				if err := runtime.ReleaseObject(obj.ObjectID).Do(c); err != nil {
					b.logger.Debug("Failed to release object", zap.Int64("node_id", int64(id)), zap.Error(err))
				}
			}()
			listeners, err = domdebugger.GetEventListeners(obj.ObjectID).Do(c)
			return err
		}))
		if err != nil {
			return nil, err
		}
		return protocol.EventListenersResult{Call: call, Success: true, Listeners: translateListeners(listeners)}, nil
	})
}

func (b *Backend) GetStyles(call protocol.CallID, id mirror.NodeID) {
	b.request("CSS.getMatchedStylesForNode", call, protocol.StylesResult{Call: call}, func(ctx context.Context) (protocol.Response, error) {
		var (
			computed []*css.ComputedStyleProperty
			matched  css.GetMatchedStylesForNodeReturns
		)
		err := b.exec.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			computed, err = css.GetComputedStyleForNode(cdp.NodeID(id)).Do(c)
			if err != nil {
				return err
			}
			return cdp.Execute(c, css.CommandGetMatchedStylesForNode, css.GetMatchedStylesForNode(cdp.NodeID(id)), &matched)
		}))
		if err != nil {
			return nil, err
		}
		return protocol.StylesResult{Call: call, Success: true, Bundle: styleBundle(computed, &matched, b.sheetURL)}, nil
	})
}
