package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/app"
	appconfig "github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
)

const corpusFixture = `[
  {"title": "Bridge monitoring", "link": "https://example.org/p0", "authors": [{"name": "Jane Smith"}], "published_date": "2019", "abstract": "Sensors on a steel bridge."},
  {"title": "Neural networks", "link": "https://example.org/p1", "authors": [], "published_date": "2020", "abstract": ""}
]`

// withTestApp points newApp at a real App over dataDir for the duration of t.
func withTestApp(t *testing.T, dataDir string) {
	t.Helper()
	v := viper.New()
	appconfig.SetDefaults(v)
	v.Set("storage.data_dir", dataDir)
	cfg, err := appconfig.Load(v)
	require.NoError(t, err)

	orig := newApp
	newApp = func(ctx context.Context) (App, error) {
		return app.NewApp(ctx, cfg, zap.NewNop(), nil)
	}
	t.Cleanup(func() { newApp = orig })
}

func TestIndexCommandWritesIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpus.CorpusFile), []byte(corpusFixture), 0o600))
	withTestApp(t, dir)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"index"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "Indexed 2 documents")
	ix, err := index.Load(filepath.Join(dir, index.File))
	require.NoError(t, err)
	require.NotNil(t, ix)
	assert.Equal(t, 2, ix.Len())
	assert.Contains(t, ix.Terms, "bridg")
}

func TestIndexCommandFallsBackToListing(t *testing.T) {
	dir := t.TempDir()
	listing := `[{"title": "Steel bridges", "link": "https://example.org/p9"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpus.ListingFile), []byte(listing), 0o600))
	withTestApp(t, dir)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"index"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), corpus.ListingFile)
}

func TestIndexCommandWithoutCorpus(t *testing.T) {
	withTestApp(t, t.TempDir())

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"index"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load corpus")
}

func TestLoadService(t *testing.T) {
	dir := t.TempDir()
	v := viper.New()
	appconfig.SetDefaults(v)
	v.Set("storage.data_dir", dir)
	cfg, err := appconfig.Load(v)
	require.NoError(t, err)

	assert.Nil(t, loadService(cfg, zap.NewNop()), "no corpus means no service")

	require.NoError(t, os.WriteFile(cfg.CorpusPath(), []byte(corpusFixture), 0o600))
	svc := loadService(cfg, zap.NewNop())
	require.NotNil(t, svc)
	assert.Equal(t, "vector", string(svc.Engine().Mode()))
	assert.Equal(t, 2, svc.Engine().Len())

	records, err := corpus.ReadFile(cfg.CorpusPath())
	require.NoError(t, err)
	data, err := index.Encode(index.Build(records))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.IndexPath(), data, 0o600))

	svc = loadService(cfg, zap.NewNop())
	require.NotNil(t, svc)
	assert.Equal(t, "index", string(svc.Engine().Mode()))
}
