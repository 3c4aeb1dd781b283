package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 1920, cfg.Width)
	require.Equal(t, 1080, cfg.Height)
	require.Equal(t, 45*time.Second, cfg.NavTimeout)
	require.NotEmpty(t, cfg.UserAgent)

	cfg = Config{Width: 800, NavTimeout: time.Second, UserAgent: "ua"}.withDefaults()
	require.Equal(t, 800, cfg.Width)
	require.Equal(t, time.Second, cfg.NavTimeout)
	require.Equal(t, "ua", cfg.UserAgent)
}

func TestAllocatorOptionsAddsExecPath(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(Config{Headless: true}.withDefaults())
	withPath := allocatorOptions(Config{Headless: true, ExecPath: "/usr/bin/chromium"}.withDefaults())
	require.Len(t, withPath, len(base)+1)
}

func TestElementErrorMapsTimeout(t *testing.T) {
	t.Parallel()

	err := elementError(context.Background(), "#email", context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrElementNotFound)
	require.Contains(t, err.Error(), "#email")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = elementError(ctx, "#email", context.Canceled)
	require.NotErrorIs(t, err, ErrElementNotFound)

	err = elementError(context.Background(), "#email", errors.New("node detached"))
	require.NotErrorIs(t, err, ErrElementNotFound)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected child to be canceled")
	}
}

func TestResponseMetaCapturesDocumentsOnly(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/dashboard"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://example.com/app.js"},
	})
	meta.captureEvent("ignored")

	status, url := meta.snapshot()
	require.Equal(t, 200, status)
	require.Equal(t, "https://example.com/dashboard", url)
}

// recordingRun captures the context of every Run instead of driving a browser.
type recordingRun struct {
	ctxs []context.Context
	err  error
}

func (r *recordingRun) run(ctx context.Context, _ ...chromedp.Action) error {
	r.ctxs = append(r.ctxs, ctx)
	return r.err
}

func TestStartLaunchesBrowserOnTabContext(t *testing.T) {
	t.Parallel()

	rec := &recordingRun{}
	allocCtx, allocCancel := context.WithCancel(context.Background())
	s, err := start(context.Background(), Config{}.withDefaults(), allocCtx, allocCancel, rec.run)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Len(t, rec.ctxs, 1)
	first := rec.ctxs[0]
	require.True(t, first == s.tab, "first run must use the long-lived tab context")
	_, hasDeadline := first.Deadline()
	require.False(t, hasDeadline)
	require.NoError(t, first.Err(), "tab context must outlive start")

	require.NoError(t, s.Navigate(context.Background(), "https://example.com/login"))
	require.Len(t, rec.ctxs, 2)
	_, hasDeadline = rec.ctxs[1].Deadline()
	require.True(t, hasDeadline)
	require.Error(t, rec.ctxs[1].Err(), "per-call context ends with the call")
	require.NoError(t, first.Err(), "browser context survives a finished call")

	require.NoError(t, s.Close())
	require.Error(t, first.Err())
	require.Error(t, allocCtx.Err())
}

func TestStartFailureClosesTab(t *testing.T) {
	t.Parallel()

	rec := &recordingRun{err: errors.New("no chrome")}
	allocCtx, allocCancel := context.WithCancel(context.Background())
	_, err := start(context.Background(), Config{}.withDefaults(), allocCtx, allocCancel, rec.run)
	require.ErrorContains(t, err, "no chrome")
	require.Len(t, rec.ctxs, 1)
	require.Error(t, rec.ctxs[0].Err())
	require.Error(t, allocCtx.Err())
}

func TestStartHonorsCanceledCaller(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	allocCtx, allocCancel := context.WithCancel(context.Background())
	_, err := start(ctx, Config{}.withDefaults(), allocCtx, allocCancel, (&recordingRun{}).run)
	require.ErrorIs(t, err, context.Canceled)
}
