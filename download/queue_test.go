package download_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/easelworks/easel/cache"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/catalog/catalogfakes"
	"github.com/easelworks/easel/download"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func staticToken(_ context.Context) (string, error) {
	return "tok", nil
}

func configureAsset(api *catalogfakes.FakeAPI, assetID string) {
	api.Assets[assetID] = &catalog.AssetInfo{
		Asset:     catalog.AssetMeta{Name: "Asset " + assetID, Status: "ready"},
		SignedURL: "https://cdn.example.test/" + assetID,
	}
}

func newTestQueue(t *testing.T, api *catalogfakes.FakeAPI, concurrency int) *download.Queue {
	t.Helper()
	queue, err := download.NewQueue(api, concurrency, zerolog.Nop())
	require.NoError(t, err)
	return queue
}

func TestResolveDownloadsAndSniffsFormat(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	api.DownloadContent = pngBytes
	configureAsset(api, "a1")
	queue := newTestQueue(t, api, 1)
	dir := t.TempDir()

	assets, err := queue.Resolve(context.Background(), []string{"a1"}, dir, staticToken)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	require.Equal(t, "a1", assets[0].AssetID)
	require.Equal(t, cache.FormatPNG, assets[0].Format)
	require.Equal(t, filepath.Join(dir, "asset-a1.png"), assets[0].LocalPath)
	require.Equal(t, "Asset a1", assets[0].Meta.Name)

	got, err := os.ReadFile(assets[0].LocalPath)
	require.NoError(t, err)
	require.Equal(t, pngBytes, got)
}

func TestResolveCacheHitSkipsTransferButRefreshesMetadata(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	configureAsset(api, "a1")
	queue := newTestQueue(t, api, 1)

	dir := t.TempDir()
	existing := filepath.Join(dir, "asset-a1.jpeg")
	require.NoError(t, os.WriteFile(existing, []byte{0xFF, 0xD8}, 0o644))

	assets, err := queue.Resolve(context.Background(), []string{"a1"}, dir, staticToken)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	require.Equal(t, existing, assets[0].LocalPath)
	require.Equal(t, cache.FormatJPEG, assets[0].Format)
	require.Equal(t, "Asset a1", assets[0].Meta.Name, "metadata is fetched even on a hit")
	require.Empty(t, api.DownloadCalls, "a cache hit must not transfer")
	require.Equal(t, 1, api.AssetCalls["a1"])
}

func TestResolveDeduplicatesIDs(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	api.DownloadContent = pngBytes
	configureAsset(api, "a1")
	configureAsset(api, "a2")
	queue := newTestQueue(t, api, 1)

	assets, err := queue.Resolve(context.Background(), []string{"a1", "a2", "a1", "a2", "a1"}, t.TempDir(), staticToken)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	require.Equal(t, 1, api.AssetCalls["a1"])
	require.Equal(t, 1, api.AssetCalls["a2"])
}

func TestResolveBoundsConcurrency(t *testing.T) {
	const limit = 2

	api := catalogfakes.NewFakeAPI()
	api.DownloadContent = pngBytes
	ids := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	for _, id := range ids {
		configureAsset(api, id)
	}

	var lock sync.Mutex
	inFlight, peak := 0, 0
	api.DownloadHook = func(_ context.Context, _ string) error {
		lock.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		lock.Unlock()

		time.Sleep(20 * time.Millisecond)

		lock.Lock()
		inFlight--
		lock.Unlock()
		return nil
	}
	queue := newTestQueue(t, api, limit)

	assets, err := queue.Resolve(context.Background(), ids, t.TempDir(), staticToken)
	require.NoError(t, err)
	require.Len(t, assets, len(ids))

	lock.Lock()
	defer lock.Unlock()
	require.LessOrEqual(t, peak, limit, "more than %d transfers were in flight", limit)
	require.Greater(t, peak, 0)
}

func TestResolveForbiddenFailsBatchWithoutRetry(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	configureAsset(api, "a1")
	api.DownloadErr = catalog.ErrForbidden
	queue := newTestQueue(t, api, 1)
	dir := t.TempDir()

	_, err := queue.Resolve(context.Background(), []string{"a1"}, dir, staticToken)
	require.ErrorIs(t, err, catalog.ErrForbidden)
	require.Equal(t, 1, api.DownloadCalls["https://cdn.example.test/a1"], "a 403 must not be retried")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "a failed batch must not leave partial or temp files")
}

func TestResolveZeroLengthDownloadIsUnknownFormat(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	api.DownloadContent = []byte{}
	configureAsset(api, "a1")
	queue := newTestQueue(t, api, 1)
	dir := t.TempDir()

	assets, err := queue.Resolve(context.Background(), []string{"a1"}, dir, staticToken)
	require.NoError(t, err)
	require.Equal(t, cache.FormatUnknown, assets[0].Format)
	require.Equal(t, filepath.Join(dir, "asset-a1.data"), assets[0].LocalPath)
}

func TestResolveEmptyBatch(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	queue := newTestQueue(t, api, 1)

	assets, err := queue.Resolve(context.Background(), nil, t.TempDir(), staticToken)
	require.NoError(t, err)
	require.Empty(t, assets)
}

func TestResolveCancelledContext(t *testing.T) {
	api := catalogfakes.NewFakeAPI()
	configureAsset(api, "a1")
	queue := newTestQueue(t, api, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := queue.Resolve(ctx, []string{"a1"}, t.TempDir(), staticToken)
	require.ErrorIs(t, err, context.Canceled)
}
