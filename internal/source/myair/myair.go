// Package myair collects nightly CPAP summaries from the ResMed myAir portal.
package myair

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Name is the registry name of this source.
const Name = "myair"

const (
	defaultBaseURL   = "https://myair.resmed.com"
	defaultWorksheet = "resmed_cpap"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	loginPath        = "/Default/Login"
	sleepDataPath    = "/SleepData/GetSleepData"
)

// Config holds the portal settings.
type Config struct {
	BaseURL   string
	Email     string
	Password  string
	Worksheet string
	UserAgent string
	Timeout   time.Duration
}

// Source logs into the portal with a form session and reads one night's record.
type Source struct {
	collector *colly.Collector
	baseURL   string
	email     string
	password  string
	table     sheet.Table
	logger    *zap.Logger
}

// response is what a single collector visit observed.
type response struct {
	status int
	body   []byte
}

// New validates cfg and prepares the collector. Cookies persist across requests.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("myair credentials are required (MYAIR_EMAIL, MYAIR_PASSWORD)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = defaultWorksheet
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.SetRequestTimeout(cfg.Timeout)
	return &Source{
		collector: c,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		email:     cfg.Email,
		password:  cfg.Password,
		table:     NewTable(cfg.Worksheet),
		logger:    logger.Named(Name),
	}, nil
}

// NewTable returns the worksheet layout for CPAP rows.
func NewTable(name string) sheet.Table {
	cols := []string{"date", "ahi", "leak", "hours_used", "mask_seal", "events", "myair_score"}
	table := sheet.Table{Name: name, KeyColumns: 1}
	for _, c := range cols {
		table.Columns = append(table.Columns, sheet.Column{Name: c})
	}
	return table
}

// Name implements source.Source.
func (s *Source) Name() string { return Name }

// Table implements source.Source.
func (s *Source) Table() sheet.Table { return s.table }

type sleepRecord struct {
	AHI           *float64 `json:"ahi"`
	MaskPairCount *float64 `json:"maskPairCount"`
	UsageHours    *float64 `json:"usageHours"`
	MaskPairScore *float64 `json:"maskPairScore"`
	TotalEvents   *float64 `json:"totalEvents"`
	MyAirScore    *float64 `json:"myAirScore"`
}

// Collect logs in and maps the first sleep record for day.
func (s *Source) Collect(ctx context.Context, day time.Time) ([]sheet.Row, error) {
	date := day.Format(source.DateLayout)
	logger := s.logger.With(zap.String("day", date), zap.String("run_id", source.RunIDFrom(ctx)))

	if err := s.login(ctx); err != nil {
		return nil, err
	}
	logger.Info("myair login succeeded")

	resp, err := s.visit(ctx, http.MethodGet, s.baseURL+sleepDataPath+"?"+url.Values{"date": {date}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("myair sleep data: status %d: %w", resp.status, source.ErrUnauthorized)
	default:
		return nil, fmt.Errorf("myair sleep data: unexpected status %d", resp.status)
	}

	var records []sleepRecord
	if err := json.Unmarshal(resp.body, &records); err != nil {
		return nil, fmt.Errorf("decode sleep data: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("myair %s: %w", date, source.ErrNoData)
	}
	r := records[0]
	row := sheet.NewRow().
		Set("date", date).
		Set("ahi", sheet.FormatDecimal(r.AHI)).
		Set("leak", sheet.FormatDecimal(r.MaskPairCount)).
		Set("hours_used", sheet.FormatDecimal(r.UsageHours)).
		Set("mask_seal", sheet.FormatDecimal(r.MaskPairScore)).
		Set("events", sheet.FormatDecimal(r.TotalEvents)).
		Set("myair_score", sheet.FormatDecimal(r.MyAirScore))
	return []sheet.Row{row}, nil
}

func (s *Source) login(ctx context.Context) error {
	loginURL := s.baseURL + loginPath
	if _, err := s.visit(ctx, http.MethodGet, loginURL, nil); err != nil {
		return fmt.Errorf("load login page: %w", err)
	}
	resp, err := s.visit(ctx, http.MethodPost, loginURL, map[string]string{
		"username":   s.email,
		"password":   s.password,
		"rememberMe": "false",
	})
	if err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("myair login: status %d: %w", resp.status, source.ErrLoginFailed)
	}
	return nil
}

// visit runs one request on a clone of the shared collector so cookies carry over.
func (s *Source) visit(ctx context.Context, method, target string, form map[string]string) (response, error) {
	var out response
	c := s.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		out = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.StatusCode != 0 {
			out = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
		}
	})

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- c.Post(target, form)
			return
		}
		done <- c.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("myair request canceled: %w", ctx.Err())
	case err := <-done:
		if out.status != 0 {
			return out, nil
		}
		if err != nil {
			return response{}, fmt.Errorf("myair %s %s: %w", method, target, err)
		}
		return response{}, fmt.Errorf("myair %s %s: no response", method, target)
	}
}
