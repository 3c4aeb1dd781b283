package heartcloud

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/healthsync/internal/sheet"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Selectors are the CSS selectors used to log in and read the session table.
type Selectors struct {
	EmailField        string `mapstructure:"email_field"`
	PasswordField     string `mapstructure:"password_field"`
	LoginButton       string `mapstructure:"login_button"`
	SessionsContainer string `mapstructure:"sessions_container"`
	SessionRow        string `mapstructure:"session_row"`
	Date              string `mapstructure:"date"`
	SessionLength     string `mapstructure:"session_length"`
	CoherenceScore    string `mapstructure:"coherence_score"`
	AchievementScore  string `mapstructure:"achievement_score"`
}

// DefaultSelectors matches the training history table.
func DefaultSelectors() Selectors {
	return Selectors{
		EmailField:        "#email",
		PasswordField:     "#password",
		LoginButton:       "button[type='submit']",
		SessionsContainer: "table",
		SessionRow:        "tr",
		Date:              "td:nth-child(1)",
		SessionLength:     "td:nth-child(2)",
		CoherenceScore:    "td:nth-child(3)",
		AchievementScore:  "td:nth-child(4)",
	}
}

// WithDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&s.EmailField, d.EmailField)
	fill(&s.PasswordField, d.PasswordField)
	fill(&s.LoginButton, d.LoginButton)
	fill(&s.SessionsContainer, d.SessionsContainer)
	fill(&s.SessionRow, d.SessionRow)
	fill(&s.Date, d.Date)
	fill(&s.SessionLength, d.SessionLength)
	fill(&s.CoherenceScore, d.CoherenceScore)
	fill(&s.AchievementScore, d.AchievementScore)
	return s
}

// Session is one training session row.
type Session struct {
	Date          time.Time
	Coherence     float64
	LengthMinutes *float64
	Achievement   *int
}

var (
	decimalPattern = regexp.MustCompile(`\d+\.?\d*`)
	clockPattern   = regexp.MustCompile(`(\d+):(\d+)`)
	intPattern     = regexp.MustCompile(`\d+`)
)

// dateLayouts are tried in order; month-first wins for ambiguous dates.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"2/1/2006",
	"January 2, 2006",
}

// HasContainer reports whether html contains the sessions container.
func HasContainer(html string, sel Selectors) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(sel.SessionsContainer).Length() > 0
}

// ExtractSessions reads session rows from the first container in html, newest first.
// Rows without a date cell are skipped. limit > 0 stops after that many sessions.
func ExtractSessions(html string, sel Selectors, limit int) ([]Session, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	container := doc.Find(sel.SessionsContainer).First()
	if container.Length() == 0 {
		return nil, &source.SelectorError{Name: "sessions_container", Selector: sel.SessionsContainer}
	}

	var (
		sessions []Session
		rowErr   error
	)
	container.Find(sel.SessionRow).EachWithBreak(func(i int, row *goquery.Selection) bool {
		dateCell := row.Find(sel.Date).First()
		dateText := strings.TrimSpace(dateCell.Text())
		if dateCell.Length() == 0 || dateText == "" {
			return true
		}
		s, err := parseRow(row, dateText, sel)
		if err != nil {
			rowErr = fmt.Errorf("session row %d: %w", i, err)
			return false
		}
		sessions = append(sessions, s)
		return limit <= 0 || len(sessions) < limit
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return sessions, nil
}

func parseRow(row *goquery.Selection, dateText string, sel Selectors) (Session, error) {
	day, err := ParseDate(dateText)
	if err != nil {
		return Session{}, err
	}
	out := Session{Date: day}

	cohCell := row.Find(sel.CoherenceScore).First()
	if cohCell.Length() == 0 {
		return Session{}, &source.SelectorError{Name: "coherence_score", Selector: sel.CoherenceScore}
	}
	coherence, ok := ParseCoherence(cohCell.Text())
	if !ok {
		return Session{}, &source.SelectorError{
			Name:     "coherence_score",
			Selector: sel.CoherenceScore,
			Err:      fmt.Errorf("no score in %q", strings.TrimSpace(cohCell.Text())),
		}
	}
	out.Coherence = coherence

	if cell := row.Find(sel.SessionLength).First(); cell.Length() > 0 {
		if minutes, ok := ParseSessionLength(cell.Text()); ok {
			out.LengthMinutes = &minutes
		}
	}
	if cell := row.Find(sel.AchievementScore).First(); cell.Length() > 0 {
		if score, ok := ParseAchievement(cell.Text()); ok {
			out.Achievement = &score
		}
	}
	return out, nil
}

// ParseDate accepts ISO, US, day-first and long-form dates.
func ParseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized session date %q", text)
}

// ParseCoherence returns the first decimal number in text.
func ParseCoherence(text string) (float64, bool) {
	m := decimalPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}

// ParseSessionLength converts "MM:SS" to minutes rounded to one decimal, or reads whole minutes.
func ParseSessionLength(text string) (float64, bool) {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		seconds, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, false
		}
		return sheet.Round(float64(minutes)+float64(seconds)/60, 1), true
	}
	if m := intPattern.FindString(text); m != "" {
		minutes, err := strconv.Atoi(m)
		return float64(minutes), err == nil
	}
	return 0, false
}

// ParseAchievement returns the first integer in text.
func ParseAchievement(text string) (int, bool) {
	m := intPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	return v, err == nil
}
