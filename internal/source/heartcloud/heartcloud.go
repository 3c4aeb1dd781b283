// Package heartcloud scrapes coherence training sessions from the HeartCloud dashboard
// with a headless browser.
package heartcloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/artifact"
	"github.com/JakeFAU/healthsync/internal/browser"
	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Name is the registry name of this source.
const Name = "heartcloud"

const (
	defaultBaseURL   = "https://heartcloud.com"
	defaultWorksheet = "daily_manual_entry"
	defaultLoginPath = "/login"
)

// DefaultCandidatePaths are visited in order until the sessions container appears.
var DefaultCandidatePaths = []string{"/", "/home", "/dashboard", "/sessions", "/history", "/review"}

// Driver is the browser surface the scraper needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	SendKeys(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Location(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// DriverFactory opens a fresh browser for one run.
type DriverFactory func(ctx context.Context) (Driver, error)

// ArtifactStore persists diagnostics.
type ArtifactStore interface {
	Put(ctx context.Context, a artifact.Artifact) (string, error)
}

// Config holds the dashboard settings.
type Config struct {
	BaseURL        string
	LoginPath      string
	CandidatePaths []string
	Email          string
	Password       string
	Worksheet      string
	Selectors      Selectors
	// WaitTimeout bounds waiting for the login form.
	WaitTimeout time.Duration
	// Settle is the pause after submitting the login form.
	Settle time.Duration
	// PageSettle is the pause after opening each candidate page.
	PageSettle time.Duration
	// Backfill writes every listed session instead of only the latest.
	Backfill bool
	Browser  browser.Config
}

// Source logs in, finds the session table and maps sessions into rows.
type Source struct {
	cfg       Config
	newDriver DriverFactory
	artifacts ArtifactStore
	sleep     func(context.Context, time.Duration) error
	table     sheet.Table
	logger    *zap.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithDriverFactory replaces the chromedp browser.
func WithDriverFactory(f DriverFactory) Option {
	return func(s *Source) { s.newDriver = f }
}

// WithArtifacts enables diagnostic captures on failure.
func WithArtifacts(store ArtifactStore) Option {
	return func(s *Source) { s.artifacts = store }
}

// WithSleep replaces the pause used while pages settle.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Source) { s.sleep = fn }
}

// New validates cfg.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Source, error) {
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("heartcloud credentials are required (HEARTCLOUD_EMAIL, HEARTCLOUD_PASSWORD)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if len(cfg.CandidatePaths) == 0 {
		cfg.CandidatePaths = DefaultCandidatePaths
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = defaultWorksheet
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 20 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 5 * time.Second
	}
	if cfg.PageSettle <= 0 {
		cfg.PageSettle = 3 * time.Second
	}
	cfg.Selectors = cfg.Selectors.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		cfg:   cfg,
		sleep: sleepCtx,
		table: NewTable(cfg.Worksheet),
	}
	s.newDriver = func(ctx context.Context) (Driver, error) {
		sess, err := browser.New(ctx, cfg.Browser)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.Named(Name)
	return s, nil
}

// NewTable returns the layout of the manually maintained daily sheet. Only the
// scraped columns are written; every other column is left alone.
func NewTable(name string) sheet.Table {
	return sheet.Table{
		Name: name,
		Columns: []sheet.Column{
			{Name: "date"},
			{Name: "coherence"},
			{Name: "session_length", Optional: true},
			{Name: "achievement", Optional: true},
		},
		KeyColumns: 1,
		Merge:      true,
	}
}

// Name implements source.Source.
func (s *Source) Name() string { return Name }

// Table implements source.Source.
func (s *Source) Table() sheet.Table { return s.table }

// Collect scrapes the session table. The latest session is used regardless of day.
func (s *Source) Collect(ctx context.Context, day time.Time) ([]sheet.Row, error) {
	logger := s.logger.With(zap.String("day", day.Format(source.DateLayout)), zap.String("run_id", source.RunIDFrom(ctx)))

	drv, err := s.newDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			logger.Warn("close browser", zap.Error(cerr))
		}
	}()

	if err := s.login(ctx, drv, logger); err != nil {
		s.diagnose(ctx, drv, "login", logger)
		return nil, err
	}
	html, page, err := s.discover(ctx, drv, logger)
	if err != nil {
		s.diagnose(ctx, drv, "discover", logger)
		return nil, err
	}
	logger.Info("sessions page found", zap.String("url", page))

	limit := 1
	if s.cfg.Backfill {
		limit = 0
	}
	sessions, err := ExtractSessions(html, s.cfg.Selectors, limit)
	if err != nil {
		s.diagnose(ctx, drv, "extract", logger)
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("heartcloud: no sessions listed: %w", source.ErrNoData)
	}
	if latest := sessions[0].Date.Format(source.DateLayout); latest != day.Format(source.DateLayout) {
		logger.Info("latest session is not on the run day", zap.String("session_date", latest))
	}

	rows := make([]sheet.Row, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		date := sess.Date.Format(source.DateLayout)
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		coherence := sess.Coherence
		rows = append(rows, sheet.NewRow().
			Set("date", date).
			Set("coherence", sheet.FormatDecimal(&coherence)).
			Set("session_length", sheet.FormatDecimal(sess.LengthMinutes)).
			Set("achievement", sheet.FormatInt(sess.Achievement)))
	}
	logger.Info("heartcloud sessions extracted", zap.Int("rows", len(rows)))
	return rows, nil
}

// Snapshot logs in, opens the sessions page and stores its screenshot and HTML,
// returning the artifact URIs. It is used to work out selectors for a changed page.
func (s *Source) Snapshot(ctx context.Context) ([]string, error) {
	if s.artifacts == nil {
		return nil, fmt.Errorf("snapshot needs an artifact store")
	}
	logger := s.logger.With(zap.String("run_id", source.RunIDFrom(ctx)))
	drv, err := s.newDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() { _ = drv.Close() }()

	if err := s.login(ctx, drv, logger); err != nil {
		return s.diagnose(ctx, drv, "login", logger), err
	}
	if _, _, err := s.discover(ctx, drv, logger); err != nil {
		logger.Warn("sessions page not found; capturing current page", zap.Error(err))
	}
	uris := s.diagnose(ctx, drv, "snapshot", logger)
	if len(uris) == 0 {
		return nil, fmt.Errorf("snapshot captured nothing")
	}
	return uris, nil
}

func (s *Source) login(ctx context.Context, drv Driver, logger *zap.Logger) error {
	sel := s.cfg.Selectors
	if err := drv.Navigate(ctx, s.cfg.BaseURL+s.cfg.LoginPath); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := drv.WaitVisible(ctx, sel.EmailField, s.cfg.WaitTimeout); err != nil {
		return selectorErr(ctx, "email_field", sel.EmailField, err)
	}
	if err := drv.SendKeys(ctx, sel.EmailField, s.cfg.Email); err != nil {
		return selectorErr(ctx, "email_field", sel.EmailField, err)
	}
	if err := drv.SendKeys(ctx, sel.PasswordField, s.cfg.Password); err != nil {
		return selectorErr(ctx, "password_field", sel.PasswordField, err)
	}
	if err := drv.Click(ctx, sel.LoginButton); err != nil {
		return selectorErr(ctx, "login_button", sel.LoginButton, err)
	}
	if err := s.sleep(ctx, s.cfg.Settle); err != nil {
		return err
	}
	loc, err := drv.Location(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(loc), "login") {
		return fmt.Errorf("heartcloud still on %s: %w", loc, source.ErrLoginFailed)
	}
	logger.Info("heartcloud login succeeded", zap.String("url", loc))
	return nil
}

// discover returns the rendered HTML and URL of the first candidate page holding the container.
func (s *Source) discover(ctx context.Context, drv Driver, logger *zap.Logger) (string, string, error) {
	sel := s.cfg.Selectors
	for _, p := range s.cfg.CandidatePaths {
		target := s.cfg.BaseURL + p
		if err := drv.Navigate(ctx, target); err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			logger.Debug("candidate page failed", zap.String("url", target), zap.Error(err))
			continue
		}
		if err := s.sleep(ctx, s.cfg.PageSettle); err != nil {
			return "", "", err
		}
		html, err := drv.OuterHTML(ctx)
		if err != nil {
			logger.Debug("read candidate page", zap.String("url", target), zap.Error(err))
			continue
		}
		if HasContainer(html, sel) {
			return html, target, nil
		}
	}
	return "", "", &source.SelectorError{
		Name:     "sessions_container",
		Selector: sel.SessionsContainer,
		Err:      fmt.Errorf("not found on %d candidate pages", len(s.cfg.CandidatePaths)),
	}
}

// diagnose stores a screenshot and the page HTML, returning the URIs that were written.
func (s *Source) diagnose(ctx context.Context, drv Driver, stage string, logger *zap.Logger) []string {
	if s.artifacts == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	runID := source.RunIDFrom(ctx)
	var uris []string
	put := func(name, contentType string, data []byte) {
		uri, err := s.artifacts.Put(ctx, artifact.Artifact{
			RunID:       runID,
			Source:      Name,
			Name:        name,
			ContentType: contentType,
			Data:        data,
		})
		if err != nil {
			logger.Warn("store diagnostic", zap.String("name", name), zap.Error(err))
			return
		}
		logger.Info("diagnostic stored", zap.String("name", name), zap.String("uri", uri))
		uris = append(uris, uri)
	}

	if shot, err := drv.Screenshot(ctx); err == nil {
		put(stage+".png", "image/png", shot)
	} else {
		logger.Warn("capture screenshot", zap.Error(err))
	}
	if html, err := drv.OuterHTML(ctx); err == nil {
		put(stage+".html", "text/html; charset=utf-8", []byte(html))
	} else {
		logger.Warn("capture html", zap.Error(err))
	}
	return uris
}

func selectorErr(ctx context.Context, name, selector string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, browser.ErrElementNotFound) || errors.Is(err, context.DeadlineExceeded) {
		return &source.SelectorError{Name: name, Selector: selector, Err: err}
	}
	return fmt.Errorf("%s (%s): %w", name, selector, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
