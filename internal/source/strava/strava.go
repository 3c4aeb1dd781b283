// Package strava collects recent workouts from the Strava v3 API.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Name is the registry name of this source.
const Name = "strava"

const (
	defaultBaseURL   = "https://www.strava.com/api/v3"
	defaultTokenURL  = "https://www.strava.com/oauth/token"
	defaultWorksheet = "strava_workouts"
	perPage          = 30
	zoneCount        = 5
)

// Config holds the API and OAuth settings.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Tokens carries rotated refresh tokens across sources built from the same settings.
	// When nil a private holder seeded with RefreshToken is used.
	Tokens       *RefreshTokens
	Worksheet    string
	LookbackDays int
	// DetailRate bounds activity detail requests per second.
	DetailRate float64
	Timeout    time.Duration
}

// Source fetches every workout that started within the lookback window.
type Source struct {
	client   *resty.Client
	oauth    oauth2.Config
	tokens   *RefreshTokens
	lookback int
	limiter  *rate.Limiter
	table    sheet.Table
	logger   *zap.Logger
}

// New validates cfg and builds the clients.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewRefreshTokens(cfg.RefreshToken)
	}
	if cfg.Tokens.Get() == "" {
		missing = append(missing, "STRAVA_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("strava credentials missing: %s", strings.Join(missing, ", "))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = defaultWorksheet
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.DetailRate <= 0 {
		cfg.DetailRate = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens:   cfg.Tokens,
		lookback: cfg.LookbackDays,
		limiter:  rate.NewLimiter(rate.Limit(cfg.DetailRate), 1),
		table:    NewTable(cfg.Worksheet),
		logger:   logger.Named(Name),
	}, nil
}

// RefreshTokens holds the current refresh token. Strava may issue a new one on every
// refresh and the previous one stops working once it has.
type RefreshTokens struct {
	mu    sync.Mutex
	token string
}

// NewRefreshTokens seeds the holder with the configured token.
func NewRefreshTokens(initial string) *RefreshTokens {
	return &RefreshTokens{token: strings.TrimSpace(initial)}
}

// Get returns the current refresh token.
func (r *RefreshTokens) Get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// Rotate stores next and reports whether it replaced a different token.
func (r *RefreshTokens) Rotate(next string) bool {
	next = strings.TrimSpace(next)
	r.mu.Lock()
	defer r.mu.Unlock()
	if next == "" || next == r.token {
		return false
	}
	r.token = next
	return true
}

// NewTable returns the worksheet layout for workouts, keyed by start date and time.
func NewTable(name string) sheet.Table {
	cols := []string{
		"date", "time", "workout_type", "name", "duration_min", "distance_km",
		"avg_hr", "max_hr", "calories", "avg_power", "max_power",
		"zone_1_min", "zone_2_min", "zone_3_min", "zone_4_min", "zone_5_min",
	}
	table := sheet.Table{Name: name, KeyColumns: 2}
	for _, c := range cols {
		table.Columns = append(table.Columns, sheet.Column{Name: c})
	}
	return table
}

// Name implements source.Source.
func (s *Source) Name() string { return Name }

// Table implements source.Source.
func (s *Source) Table() sheet.Table { return s.table }

type activity struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	StartDateLocal string   `json:"start_date_local"`
	MovingTime     float64  `json:"moving_time"`
	Distance       float64  `json:"distance"`
	AverageHR      *float64 `json:"average_heartrate"`
	MaxHR          *float64 `json:"max_heartrate"`
	Calories       *float64 `json:"calories"`
	AverageWatts   *float64 `json:"average_watts"`
	MaxWatts       *float64 `json:"max_watts"`
}

type activityDetail struct {
	activity
	HeartRateZones *struct {
		Zones []struct {
			Time float64 `json:"time"`
		} `json:"zones"`
	} `json:"heartrate_zones"`
}

// Collect returns one row per workout started in the lookback window ending on day.
func (s *Source) Collect(ctx context.Context, day time.Time) ([]sheet.Row, error) {
	logger := s.logger.With(zap.String("day", day.Format(source.DateLayout)), zap.String("run_id", source.RunIDFrom(ctx)))

	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	if s.tokens.Rotate(token.RefreshToken) {
		logger.Warn("strava rotated the refresh token; update STRAVA_REFRESH_TOKEN")
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).
		AddDate(0, 0, -(s.lookback - 1))
	end := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).AddDate(0, 0, 1)

	var list []activity
	if err := s.get(ctx, token.AccessToken, "/athlete/activities", map[string]string{
		"after":    strconv.FormatInt(start.Unix(), 10),
		"before":   strconv.FormatInt(end.Unix(), 10),
		"per_page": strconv.Itoa(perPage),
	}, &list); err != nil {
		return nil, err
	}
	logger.Info("strava activities listed", zap.Int("count", len(list)), zap.Time("after", start))
	if len(list) == 0 {
		return nil, fmt.Errorf("strava since %s: %w", start.Format(source.DateLayout), source.ErrNoData)
	}

	rows := make([]sheet.Row, 0, len(list))
	for _, a := range list {
		detail := activityDetail{activity: a}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := s.get(ctx, token.AccessToken, fmt.Sprintf("/activities/%d", a.ID), nil, &detail); err != nil {
			if errors.Is(err, source.ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			logger.Warn("strava activity detail failed", zap.Int64("activity_id", a.ID), zap.Error(err))
			detail = activityDetail{activity: a}
		}
		row, err := mapActivity(a, detail)
		if err != nil {
			logger.Warn("strava activity skipped", zap.Int64("activity_id", a.ID), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("strava: no usable activities: %w", source.ErrNoData)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ki := rows[i].Get("date") + "T" + rows[i].Get("time")
		kj := rows[j].Get("date") + "T" + rows[j].Get("time")
		return ki < kj
	})
	return rows, nil
}

func (s *Source) token(ctx context.Context) (*oauth2.Token, error) {
	ts := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.tokens.Get()})
	token, err := ts.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("strava token refresh: %v: %w", rerr, source.ErrUnauthorized)
		}
		return nil, fmt.Errorf("strava token refresh: %w", err)
	}
	return token, nil
}

func (s *Source) get(ctx context.Context, accessToken, path string, query map[string]string, out any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("strava %s: status %d: %w", path, code, source.ErrUnauthorized)
	case code != http.StatusOK:
		return fmt.Errorf("strava %s: unexpected status %d", path, code)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func mapActivity(a activity, detail activityDetail) (sheet.Row, error) {
	date, clock, ok := strings.Cut(a.StartDateLocal, "T")
	if !ok || date == "" {
		return sheet.Row{}, fmt.Errorf("unexpected start_date_local %q", a.StartDateLocal)
	}
	clock = strings.TrimSuffix(clock, "Z")
	kind := a.Type
	if kind == "" {
		kind = "Unknown"
	}
	calories := a.Calories
	if calories == nil {
		calories = detail.Calories
	}
	duration := a.MovingTime / 60
	distance := a.Distance / 1000

	row := sheet.NewRow().
		Set("date", date).
		Set("time", clock).
		Set("workout_type", kind).
		Set("name", a.Name).
		Set("duration_min", sheet.FormatFloat(&duration, 1)).
		Set("distance_km", sheet.FormatFloat(&distance, 2)).
		Set("avg_hr", sheet.FormatDecimal(a.AverageHR)).
		Set("max_hr", sheet.FormatDecimal(a.MaxHR)).
		Set("calories", sheet.FormatDecimal(calories)).
		Set("avg_power", sheet.FormatDecimal(a.AverageWatts)).
		Set("max_power", sheet.FormatDecimal(a.MaxWatts))

	if detail.HeartRateZones != nil && len(detail.HeartRateZones.Zones) >= zoneCount {
		for i := range zoneCount {
			minutes := detail.HeartRateZones.Zones[i].Time / 60
			if minutes == 0 {
				continue
			}
			row.Set(fmt.Sprintf("zone_%d_min", i+1), sheet.FormatFloat(&minutes, 1))
		}
	}
	return row, nil
}
