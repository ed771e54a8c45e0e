package playground

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/share"
	"go.uber.org/zap"
)

// ChromeOptions configures a ChromeEngine.
type ChromeOptions struct {
	RemoteURL  string // DevTools endpoint of a running browser; empty launches one
	ExecPath   string
	Headless   bool
	RunTimeout time.Duration // bound on a single page operation (default: 30s)
	Sharer     *share.Sharer
	Logger     *zap.Logger
}

// ChromeEngine runs playgrounds as tabs of a headless Chrome.
type ChromeEngine struct {
	opts   ChromeOptions
	logger *zap.Logger
	ready  chan struct{}
	failed chan struct{}

	mu         sync.Mutex
	browserCtx context.Context
	cancel     context.CancelFunc
	startErr   error
	started    bool
}

// NewChromeEngine creates an engine. Call Start to launch the browser.
func NewChromeEngine(opts ChromeOptions) *ChromeEngine {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeEngine{
		opts:   opts,
		logger: logger.Named("chrome"),
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
}

// Start launches or attaches to the browser in the background. Ready is
// closed once it is up; on failure Failed is closed instead and Err reports
// why.
func (e *ChromeEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if e.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, e.opts.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", e.opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		)
		if e.opts.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(e.opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	e.browserCtx = browserCtx
	e.cancel = func() {
		browserCancel()
		allocCancel()
	}
	e.mu.Unlock()

	go func() {
		if err := chromedp.Run(browserCtx); err != nil {
			e.mu.Lock()
			e.startErr = err
			e.mu.Unlock()
			e.logger.Error("browser failed to start", zap.Error(err))
			close(e.failed)
			return
		}
		e.logger.Info("browser ready")
		close(e.ready)
	}()
}

// Ready implements Engine.
func (e *ChromeEngine) Ready() <-chan struct{} {
	return e.ready
}

// Failed implements StartFailer.
func (e *ChromeEngine) Failed() <-chan struct{} {
	return e.failed
}

// Err returns the startup failure, if any.
func (e *ChromeEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startErr
}

// Close shuts the browser down.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Create opens a new tab loaded with cfg.
func (e *ChromeEngine) Create(ctx context.Context, container string, cfg Config) (Instance, error) {
	e.mu.Lock()
	browserCtx := e.browserCtx
	e.mu.Unlock()
	if browserCtx == nil {
		return nil, &labkit.InitializationError{Reason: "browser not started"}
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	inst := &chromeInstance{
		container: container,
		tabCtx:    tabCtx,
		cancel:    cancel,
		timeout:   e.opts.RunTimeout,
		sharer:    e.opts.Sharer,
		logger:    e.logger.With(zap.String("container", container)),
		cfg:       cfg,
		watchers:  make(map[string]map[int]func(Event)),
	}

	chromedp.ListenTarget(tabCtx, inst.onTargetEvent)

	if err := inst.do(ctx, runtime.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return inst, nil
}

type chromeInstance struct {
	container string
	tabCtx    context.Context
	cancel    context.CancelFunc
	timeout   time.Duration
	sharer    *share.Sharer
	logger    *zap.Logger

	mu       sync.Mutex
	cfg      Config
	closed   bool
	watchers map[string]map[int]func(Event)
	nextID   int
}

// do runs actions in the tab, bounded by the run timeout and by ctx.
// Cancelling the derived context does not close the tab.
func (c *chromeInstance) do(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(c.tabCtx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *chromeInstance) snapshot() (Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Config{}, ErrClosed
	}
	return c.cfg, nil
}

func (c *chromeInstance) Run(ctx context.Context) error {
	cfg, err := c.snapshot()
	if err != nil {
		return err
	}
	if err := c.do(ctx, chromedp.Navigate(DocumentURL(cfg.Code()))); err != nil {
		return fmt.Errorf("run code: %w", err)
	}
	c.emit(Event{Type: EventRun})
	return nil
}

func (c *chromeInstance) GetCode(ctx context.Context) (Code, error) {
	cfg, err := c.snapshot()
	if err != nil {
		return Code{}, err
	}
	return cfg.Code(), nil
}

func (c *chromeInstance) RunTests(ctx context.Context) ([]results.Outcome, error) {
	cfg, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	tests := PlaceholderTests
	if cfg.Tests != nil {
		tests = cfg.Tests.Content
	}

	var outcomes []results.Outcome
	err = c.do(ctx, chromedp.Evaluate(TestScript(tests), &outcomes,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}
	c.emit(Event{Type: EventTests, Data: strconv.Itoa(len(outcomes))})
	return outcomes, nil
}

func (c *chromeInstance) SetConfig(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cfg = c.cfg.Merge(cfg)
	c.mu.Unlock()

	c.emit(Event{Type: EventCode})
	return nil
}

func (c *chromeInstance) ShareURL(ctx context.Context, short bool) (string, error) {
	cfg, err := c.snapshot()
	if err != nil {
		return "", err
	}
	if c.sharer == nil {
		return "", errors.New("sharing is not configured")
	}
	code := cfg.Code()
	return c.sharer.URL(ctx, share.Snapshot{
		Lab:  cfg.Lab,
		HTML: code.Markup,
		CSS:  code.Style,
		JS:   code.Script,
	}, short)
}

func (c *chromeInstance) Watch(event string, fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers[event] == nil {
		c.watchers[event] = make(map[int]func(Event))
	}
	id := c.nextID
	c.nextID++
	c.watchers[event][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[event], id)
	}
}

func (c *chromeInstance) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.watchers[ev.Type]))
	for _, fn := range c.watchers[ev.Type] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *chromeInstance) onTargetEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		args := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			args = append(args, remoteObjectText(arg))
		}
		c.emit(Event{Type: EventConsole, Data: string(ev.Type) + ": " + strings.Join(args, " ")})
	case *runtime.EventExceptionThrown:
		if ev.ExceptionDetails == nil {
			return
		}
		text := ev.ExceptionDetails.Text
		if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
			text = ev.ExceptionDetails.Exception.Description
		}
		c.emit(Event{Type: EventError, Data: text})
	}
}

func remoteObjectText(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		raw := string(obj.Value)
		if s, err := strconv.Unquote(raw); err == nil {
			return s
		}
		return raw
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

func (c *chromeInstance) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.watchers = make(map[string]map[int]func(Event))
	c.mu.Unlock()

	c.cancel()
	c.logger.Debug("tab closed")
	return nil
}
