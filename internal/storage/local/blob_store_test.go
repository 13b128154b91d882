package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pubsearch/internal/storage"
	"github.com/JakeFAU/pubsearch/internal/storage/local"
)

var _ storage.BlobStore = (*local.BlobStore)(nil)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestNewCreatesDataDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data", "run")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe must be cleaned up")
}

func TestNewRejectsUnusableDirs(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.ErrorContains(t, err, "required")

	file := filepath.Join(t.TempDir(), "publications.json")
	require.NoError(t, os.WriteFile(file, []byte("[]"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")
}

func TestNewRejectsReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500)) // #nosec G302 -- read-only on purpose
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := local.New(local.Config{BaseDir: dir})
	require.ErrorContains(t, err, "not writable")
}

func TestPutObjectWritesArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	for _, name := range []string{"publications.json", "captures/listing-page-1-attempt1.html"} {
		uri, err := storage.PutBytes(context.Background(), store, name, "application/json", []byte("[]"))
		require.NoError(t, err)

		want := filepath.Join(dir, filepath.FromSlash(name))
		assert.Equal(t, "file://"+filepath.ToSlash(want), uri)
		data, err := os.ReadFile(want) // #nosec G304 -- test temp dir
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data))
	}
}

func TestPutObjectReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.PutBytes(ctx, store, "inverted_index.json", "application/json", []byte(`{"terms":{}}`))
	require.NoError(t, err)

	_, err = store.PutObject(ctx, "inverted_index.json", "application/json", failingReader{})
	require.ErrorContains(t, err, "disk on fire")

	data, err := os.ReadFile(filepath.Join(dir, "inverted_index.json")) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	assert.Equal(t, `{"terms":{}}`, string(data), "failed write must leave the old artifact")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestPutObjectRejectsEscapes(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.json", "captures/../../escape.json", ".", "captures/.."} {
		_, err := store.PutObject(context.Background(), name, "", strings.NewReader("x"))
		assert.Error(t, err, name)
	}
}
