package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresPayloads(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	got := pub.Payloads()
	require.Len(t, got, 2)
	got[0] = "modified"
	require.Equal(t, map[string]string{"k": "v"}, pub.Payloads()[0])
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	pub := New()
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Payloads())
	require.NoError(t, pub.Close())
}
