package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "bucket"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "bucket", Prefix: "dedup/"})
	require.NoError(t, err)
	require.Equal(t, "bucket", store.bucket)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "bucket", Prefix: "dedup/"})
	require.NoError(t, err)

	name, err := store.objectName("runs-window")
	require.NoError(t, err)
	require.Equal(t, "dedup/runs-window.json", name)

	_, err = store.objectName("")
	require.Error(t, err)
	_, err = store.objectName("a/b")
	require.Error(t, err)
}
