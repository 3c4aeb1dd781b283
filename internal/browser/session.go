// Package browser drives a single headless Chrome tab through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrElementNotFound is returned when a selector does not become visible in time.
var ErrElementNotFound = errors.New("element not found")

const (
	defaultWidth      = 1920
	defaultHeight     = 1080
	defaultNavTimeout = 45 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Config controls the browser process.
type Config struct {
	Headless   bool
	UserAgent  string
	ExecPath   string
	Width      int
	Height     int
	NavTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	return c
}

// Session owns one browser process and one tab.
type Session struct {
	cfg         Config
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	meta        *responseMeta
	runActions  runFunc
	closeOnce   sync.Once
}

// runFunc executes actions against a chromedp context.
type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// New starts the browser and opens a tab.
func New(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return start(ctx, cfg, allocCtx, allocCancel, chromedp.Run)
}

// start opens a tab on allocCtx and launches the browser. The first Run on a tab
// allocates the browser process and ties it to that Run's context, so it runs on
// the tab itself with no deadline.
func start(
	ctx context.Context,
	cfg Config,
	allocCtx context.Context,
	allocCancel context.CancelFunc,
	run runFunc,
) (*Session, error) {
	tab, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		cfg:         cfg,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   sync.OnceFunc(tabCancel),
		meta:        newResponseMeta(),
		runActions:  run,
	}
	chromedp.ListenTarget(tab, s.meta.captureEvent)

	stop := forwardCancel(ctx, s.tabCancel)
	err := run(tab, s.setupAction())
	stop()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	headless := chromedp.Flag("headless", "new")
	if !cfg.Headless {
		headless = chromedp.Flag("headless", false)
	}
	opts = append(opts,
		headless,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.WindowSize(cfg.Width, cfg.Height),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// Close shuts down the tab and the browser process.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
	})
	return nil
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Status returns the HTTP status of the last document response, or 0 when unknown.
func (s *Session) Status() int {
	status, _ := s.meta.snapshot()
	return status
}

// WaitVisible waits up to timeout for selector to be visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.element(ctx, selector, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// SendKeys types text into the element matched by selector.
func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	return s.element(ctx, selector, s.cfg.NavTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Click clicks the element matched by selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.element(ctx, selector, s.cfg.NavTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.NavTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// OuterHTML returns the rendered document.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.NavTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.NavTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) element(ctx context.Context, selector string, timeout time.Duration, action chromedp.Action) error {
	err := s.run(ctx, timeout, action)
	if err == nil {
		return nil
	}
	return elementError(ctx, selector, err)
}

// elementError maps a per-call deadline into ErrElementNotFound while keeping caller cancellation intact.
func elementError(ctx context.Context, selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return fmt.Errorf("selector %s: %w", selector, err)
}

// run executes actions on the already started tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := s.runActions(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("browser canceled: %w", ctx.Err())
		}
		return err
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
