package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "bucket")
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, " ")
	require.Error(t, err)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery+"\n"+string(body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"diag","name":"heartcloud/page.html"}`))
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	store, err := New(client, "diag")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	uri, err := store.PutObject(context.Background(), "heartcloud/page.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://diag/heartcloud/page.html", uri)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, bodies)
	require.Contains(t, bodies[0], "/upload/storage/v1/b/diag/o")
	require.Contains(t, bodies[0], "uploadType=multipart")
	require.Contains(t, bodies[0], "<html></html>")
}
