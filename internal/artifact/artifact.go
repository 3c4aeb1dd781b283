// Package artifact persists diagnostic captures (screenshots, page HTML) from failed runs.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Artifact is one captured file.
type Artifact struct {
	RunID       string
	Source      string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Store names artifacts and hands them to a BlobStore.
type Store struct {
	blobs  BlobStore
	prefix string
	now    func() time.Time
}

// NewStore wraps blobs. prefix may be empty.
func NewStore(blobs BlobStore, prefix string) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Store{
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}, nil
}

// Put writes a and returns its URI.
func (s *Store) Put(ctx context.Context, a Artifact) (string, error) {
	if strings.TrimSpace(a.Name) == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	key := Key(s.prefix, a)
	uri, err := s.blobs.PutObject(ctx, key, a.ContentType, bytes.NewReader(a.Data))
	if err != nil {
		return "", fmt.Errorf("put artifact %s: %w", key, err)
	}
	return uri, nil
}

// Key returns the object path {prefix}/{source}/{YYYYMMDD}/{run_id}-{name}.
func Key(prefix string, a Artifact) string {
	src := sanitize(a.Source, "unknown")
	run := sanitize(a.RunID, "norun")
	name := sanitize(a.Name, "artifact")
	day := a.CreatedAt.UTC().Format("20060102")
	return path.Join(prefix, src, day, run+"-"+name)
}

func sanitize(s, fallback string) string {
	s = strings.Trim(unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_"), "._")
	if s == "" {
		return fallback
	}
	return s
}
