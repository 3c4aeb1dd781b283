// Package oura collects daily sleep, readiness and activity summaries from the Oura v2 API.
package oura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Name is the registry name of this source.
const Name = "oura"

const (
	defaultBaseURL   = "https://api.ouraring.com"
	defaultWorksheet = "oura_data"
	collectionPath   = "/v2/usercollection/"
)

// Config holds the API settings.
type Config struct {
	BaseURL   string
	Token     string
	Worksheet string
	Timeout   time.Duration
}

// Source fetches one row per day.
type Source struct {
	client *resty.Client
	table  sheet.Table
	logger *zap.Logger
}

// New validates cfg and builds the HTTP client.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("oura token is required (OURA_TOKEN)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = defaultWorksheet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Source{
		client: client,
		table:  NewTable(cfg.Worksheet),
		logger: logger.Named(Name),
	}, nil
}

// NewTable returns the worksheet layout for Oura rows.
func NewTable(name string) sheet.Table {
	cols := []string{
		"date", "sleep_score", "readiness_score", "activity_score",
		"total_sleep", "deep_sleep", "rem_sleep", "light_sleep",
		"sleep_efficiency", "hrv_avg", "resting_hr", "body_temp",
		"steps", "calories",
	}
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

type sleepDoc struct {
	Score        *float64 `json:"score"`
	Contributors struct {
		TotalSleep *float64 `json:"total_sleep"`
		DeepSleep  *float64 `json:"deep_sleep"`
		REMSleep   *float64 `json:"rem_sleep"`
		LightSleep *float64 `json:"light_sleep"`
		Efficiency *float64 `json:"efficiency"`
	} `json:"contributors"`
}

type readinessDoc struct {
	Score        *float64 `json:"score"`
	Contributors struct {
		HRVBalance       *float64 `json:"hrv_balance"`
		RestingHeartRate *float64 `json:"resting_heart_rate"`
		BodyTemperature  *float64 `json:"body_temperature"`
	} `json:"contributors"`
}

type activityDoc struct {
	Score         *float64 `json:"score"`
	Steps         *float64 `json:"steps"`
	TotalCalories *float64 `json:"total_calories"`
}

// Collect fetches the three daily collections for day and maps them into one row.
func (s *Source) Collect(ctx context.Context, day time.Time) ([]sheet.Row, error) {
	date := day.Format(source.DateLayout)
	row := sheet.NewRow().Set("date", date)
	logger := s.logger.With(zap.String("day", date), zap.String("run_id", source.RunIDFrom(ctx)))

	var (
		failures []error
		found    int
	)
	fetch := func(collection string, apply func(json.RawMessage) error) error {
		doc, err := s.first(ctx, collection, date)
		if err != nil {
			if errors.Is(err, source.ErrUnauthorized) || ctx.Err() != nil {
				return err
			}
			logger.Warn("oura collection failed", zap.String("collection", collection), zap.Error(err))
			failures = append(failures, err)
			return nil
		}
		if doc == nil {
			logger.Info("oura collection empty", zap.String("collection", collection))
			return nil
		}
		if err := apply(doc); err != nil {
			logger.Warn("oura document invalid", zap.String("collection", collection), zap.Error(err))
			failures = append(failures, fmt.Errorf("decode %s: %w", collection, err))
			return nil
		}
		found++
		return nil
	}

	steps := []struct {
		collection string
		apply      func(json.RawMessage) error
	}{
		{"daily_sleep", func(raw json.RawMessage) error {
			var d sleepDoc
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			row.Set("sleep_score", sheet.FormatDecimal(d.Score)).
				Set("total_sleep", sheet.FormatDecimal(d.Contributors.TotalSleep)).
				Set("deep_sleep", sheet.FormatDecimal(d.Contributors.DeepSleep)).
				Set("rem_sleep", sheet.FormatDecimal(d.Contributors.REMSleep)).
				Set("light_sleep", sheet.FormatDecimal(d.Contributors.LightSleep)).
				Set("sleep_efficiency", sheet.FormatDecimal(d.Contributors.Efficiency))
			return nil
		}},
		{"daily_readiness", func(raw json.RawMessage) error {
			var d readinessDoc
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			row.Set("readiness_score", sheet.FormatDecimal(d.Score)).
				Set("hrv_avg", sheet.FormatDecimal(d.Contributors.HRVBalance)).
				Set("resting_hr", sheet.FormatDecimal(d.Contributors.RestingHeartRate)).
				Set("body_temp", sheet.FormatDecimal(d.Contributors.BodyTemperature))
			return nil
		}},
		{"daily_activity", func(raw json.RawMessage) error {
			var d activityDoc
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			row.Set("activity_score", sheet.FormatDecimal(d.Score)).
				Set("steps", sheet.FormatDecimal(d.Steps)).
				Set("calories", sheet.FormatDecimal(d.TotalCalories))
			return nil
		}},
	}
	for _, step := range steps {
		if err := fetch(step.collection, step.apply); err != nil {
			return nil, err
		}
	}

	if len(failures) == len(steps) {
		return nil, fmt.Errorf("all oura collections failed: %w", errors.Join(failures...))
	}
	if found == 0 {
		return nil, fmt.Errorf("oura %s: %w", date, source.ErrNoData)
	}
	return []sheet.Row{row}, nil
}

// first returns the first document of a collection for date, or nil when the collection is empty.
func (s *Source) first(ctx context.Context, collection, date string) (json.RawMessage, error) {
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"start_date": date, "end_date": date}).
		Get(collectionPath + collection)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", collection, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("oura %s: status %d: %w", collection, code, source.ErrUnauthorized)
	case code != http.StatusOK:
		return nil, fmt.Errorf("oura %s: unexpected status %d", collection, code)
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return body.Data[0], nil
}
