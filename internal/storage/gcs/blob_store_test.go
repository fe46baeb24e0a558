package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "challenges/cars/x.html", objectName("", "/challenges/cars/x.html"))
	require.Equal(t, "debug/challenges/cars/x.html", objectName("debug", "challenges/cars/x.html"))
}

func TestCloseWithoutOwnedClient(t *testing.T) {
	t.Parallel()

	var s *BlobStore
	require.NoError(t, s.Close())
	require.NoError(t, (&BlobStore{}).Close())
}
