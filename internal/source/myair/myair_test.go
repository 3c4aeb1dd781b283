package myair

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/source"
)

var testDay = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

func newPortal(t *testing.T, sleepData string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Default/Login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "csrf", Value: "token", Path: "/"})
			_, _ = w.Write([]byte("<form></form>"))
			return
		}
		_ = r.ParseForm()
		if _, err := r.Cookie("csrf"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("username") != "me@example.com" || r.Form.Get("password") != "pw" ||
			r.Form.Get("rememberMe") != "false" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	})
	mux.HandleFunc("/SleepData/GetSleepData", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("date") != "2024-03-14" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sleepData))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectMapsFirstRecord(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, `[{"ahi":1.4,"maskPairCount":2,"usageHours":7.25,"maskPairScore":18,"totalEvents":11,"myAirScore":92},{"ahi":9}]`)
	src, err := New(Config{BaseURL: srv.URL, Email: "me@example.com", Password: "pw"}, zap.NewNop())
	require.NoError(t, err)

	rows, err := src.Collect(context.Background(), testDay)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"2024-03-14", "1.4", "2", "7.25", "18", "11", "92"}, rows[0].Values(src.Table()))
}

func TestCollectNoData(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, `[]`)
	src, err := New(Config{BaseURL: srv.URL, Email: "me@example.com", Password: "pw"}, zap.NewNop())
	require.NoError(t, err)

	_, err = src.Collect(context.Background(), testDay)
	require.ErrorIs(t, err, source.ErrNoData)
}

func TestCollectLoginRejected(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, `[]`)
	src, err := New(Config{BaseURL: srv.URL, Email: "me@example.com", Password: "wrong"}, zap.NewNop())
	require.NoError(t, err)

	_, err = src.Collect(context.Background(), testDay)
	require.ErrorIs(t, err, source.ErrLoginFailed)
}

func TestCollectCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, `[]`)
	src, err := New(Config{BaseURL: srv.URL, Email: "me@example.com", Password: "pw"}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Collect(ctx, testDay)
	require.Error(t, err)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Email: "me@example.com"}, nil)
	require.Error(t, err)
}
