package artifact

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingBlobs struct {
	path        string
	contentType string
	data        []byte
	err         error
}

func (r *recordingBlobs) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	r.path, r.contentType, r.data = path, contentType, b
	return "mem://" + path, nil
}

func TestKey(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 3, 14, 23, 30, 0, 0, time.UTC)
	cases := []struct {
		name   string
		prefix string
		in     Artifact
		want   string
	}{
		{
			name:   "full",
			prefix: "diagnostics",
			in:     Artifact{RunID: "run-1", Source: "heartcloud", Name: "login.png", CreatedAt: created},
			want:   "diagnostics/heartcloud/20240314/run-1-login.png",
		},
		{
			name: "no prefix",
			in:   Artifact{RunID: "run-1", Source: "heartcloud", Name: "page.html", CreatedAt: created},
			want: "heartcloud/20240314/run-1-page.html",
		},
		{
			name: "unsafe segments",
			in:   Artifact{RunID: "../../etc", Source: "heart cloud", Name: "a/b.png", CreatedAt: created},
			want: "heart_cloud/20240314/etc-a_b.png",
		},
		{
			name: "fallbacks",
			in:   Artifact{Name: "x.png", CreatedAt: created},
			want: "unknown/20240314/norun-x.png",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Key(tc.prefix, tc.in))
		})
	}
}

func TestStorePut(t *testing.T) {
	t.Parallel()

	blobs := &recordingBlobs{}
	store, err := NewStore(blobs, "/diag/")
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	uri, err := store.Put(context.Background(), Artifact{
		RunID: "r", Source: "heartcloud", Name: "page.html", ContentType: "text/html", Data: []byte("<html>"),
	})
	require.NoError(t, err)
	require.Equal(t, "mem://diag/heartcloud/20240102/r-page.html", uri)
	require.Equal(t, "text/html", blobs.contentType)
	require.Equal(t, "<html>", string(blobs.data))
}

func TestStorePutErrors(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, "")
	require.Error(t, err)

	boom := errors.New("boom")
	store, err := NewStore(&recordingBlobs{err: boom}, "")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), Artifact{Name: "x"})
	require.ErrorIs(t, err, boom)
	_, err = store.Put(context.Background(), Artifact{})
	require.Error(t, err)
}
