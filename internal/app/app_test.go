// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/app"
	"github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/notify"
	notifymemory "github.com/JakeFAU/pubsearch/internal/notify/memory"
	"github.com/JakeFAU/pubsearch/internal/storage"
	storagememory "github.com/JakeFAU/pubsearch/internal/storage/memory"
)

// MockGCSClientFactory mocks the GCSClientFactory interface.
type MockGCSClientFactory struct {
	mock.Mock
}

// NewClient satisfies the GCSClientFactory interface for the mock.
func (m *MockGCSClientFactory) NewClient(ctx context.Context) (*gcsstorage.Client, error) {
	args := m.Called(ctx)
	client, _ := args.Get(0).(*gcsstorage.Client)
	return client, args.Error(1)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("storage.data_dir", filepath.Join(t.TempDir(), "data"))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestNewAppLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, cfg, a.GetConfig())
	assert.NotNil(t, a.GetLogger())
	assert.IsType(t, notify.Nop{}, a.GetPublisher())

	uri, err := storage.PutBytes(context.Background(), a.GetStorage(), "publications.json", "application/json", []byte("[]"))
	require.NoError(t, err)
	assert.Contains(t, uri, "publications.json")

	data, err := os.ReadFile(filepath.Join(cfg.Storage.DataDir, "publications.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestNewAppMemoryProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "memory"
	cfg.Notify.Provider = "memory"

	a, err := app.NewApp(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storagememory.BlobStore{}, a.GetStorage())
	assert.IsType(t, &notifymemory.Publisher{}, a.GetPublisher())
}

func TestNewAppGCSClientFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "gcs"
	cfg.Storage.GCS.Bucket = "pubs"

	factory := new(MockGCSClientFactory)
	factory.On("NewClient", mock.Anything).Return(nil, errors.New("no credentials"))

	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), factory)
	require.ErrorContains(t, err, "no credentials")
	factory.AssertExpectations(t)
}

func TestNewAppUnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Provider = "s3"
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.ErrorContains(t, err, "unknown storage provider")

	cfg = testConfig(t)
	cfg.Notify.Provider = "kafka"
	_, err = app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.ErrorContains(t, err, "unknown notify provider")
}

func TestNewAppPubSubRequiresTopic(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Notify.Provider = "pubsub"
	_, err := app.NewApp(context.Background(), cfg, zap.NewNop(), nil)
	require.ErrorContains(t, err, "pubsub project and topic are required")
}
