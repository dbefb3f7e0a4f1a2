// Package download resolves batches of asset identifiers into locally
// cached files with bounded network concurrency.
package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/easelworks/easel/cache"
	"github.com/easelworks/easel/catalog"
)

const (
	defaultConcurrency = 1
	maxTransferRetries = 2
	initialRetryDelay  = 2 * time.Second
)

// TokenProvider yields a fresh access token for authenticated catalog
// calls. Routed through the auth manager so an expired token is refreshed
// transparently to the queue.
type TokenProvider func(ctx context.Context) (string, error)

// CachedAsset is one fully resolved asset: remote metadata plus the local
// file it was cached to. Never mutated after creation; a re-download
// replaces the value wholesale.
type CachedAsset struct {
	AssetID   string
	Meta      catalog.AssetMeta
	LocalPath string
	Format    cache.Format
}

// Queue downloads assets with at most its configured number of jobs in
// flight. A Queue is stateless between Resolve calls and safe to reuse.
type Queue struct {
	api         catalog.API
	concurrency int
	log         zerolog.Logger
}

// NewQueue builds a Queue. concurrency <= 0 means the default of 1.
func NewQueue(api catalog.API, concurrency int, log zerolog.Logger) (*Queue, error) {
	if api == nil {
		return nil, errors.New("[NewQueue] api is required")
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Queue{
		api:         api,
		concurrency: concurrency,
		log:         log.With().Str("component", "download").Logger(),
	}, nil
}

// Resolve produces one CachedAsset per id. Any job failure cancels the
// remaining jobs and fails the whole batch: the playlist either gets its
// complete asset set or nothing. Completion order is unspecified, so the
// result order bears no relation to the input order.
func (q *Queue) Resolve(ctx context.Context, ids []string, cacheDir string, token TokenProvider) ([]CachedAsset, error) {
	if token == nil {
		return nil, errors.New("[Resolve] token provider is required")
	}
	if err := cache.EnsureDir(cacheDir); err != nil {
		return nil, err
	}

	ids = dedupe(ids)
	results := make(chan CachedAsset, len(ids))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(q.concurrency)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			asset, err := q.resolveOne(groupCtx, id, cacheDir, token)
			if err != nil {
				return errors.Wrapf(err, "asset %s", id)
			}
			results <- asset
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "[Resolve] batch failed")
	}
	close(results)

	assets := make([]CachedAsset, 0, len(ids))
	for asset := range results {
		assets = append(assets, asset)
	}
	q.log.Info().Int("assets", len(assets)).Msg("batch resolved")
	return assets, nil
}

// resolveOne runs the per-id job: probe the cache, fetch metadata (always,
// so displayed metadata stays current even on a hit), and transfer the
// content only on a cache miss.
func (q *Queue) resolveOne(ctx context.Context, assetID, cacheDir string, token TokenProvider) (CachedAsset, error) {
	log := q.log.With().Str("asset_id", assetID).Logger()

	existing, hit, err := cache.Probe(cacheDir, assetID)
	if err != nil {
		return CachedAsset{}, err
	}

	accessToken, err := token(ctx)
	if err != nil {
		return CachedAsset{}, errors.Wrap(err, "resolve access token")
	}

	log.Debug().Bool("cache_hit", hit).Msg("fetching asset metadata")
	info, err := q.api.Asset(ctx, accessToken, assetID)
	if err != nil {
		return CachedAsset{}, err
	}

	if hit {
		ext := strings.TrimPrefix(filepath.Ext(existing), ".")
		log.Debug().Str("path", existing).Msg("resolved from cache")
		return CachedAsset{
			AssetID:   assetID,
			Meta:      info.Asset,
			LocalPath: existing,
			Format:    cache.FormatForExt(ext),
		}, nil
	}

	localPath, format, err := q.transfer(ctx, assetID, cacheDir, info.SignedURL)
	if err != nil {
		return CachedAsset{}, err
	}
	log.Info().Str("path", localPath).Stringer("format", format).Msg("asset cached")
	return CachedAsset{
		AssetID:   assetID,
		Meta:      info.Asset,
		LocalPath: localPath,
		Format:    format,
	}, nil
}

// transfer downloads the signed URL to a temp file, sniffs the container
// format, and renames into the cache. The destination name only ever
// appears via rename, so a cancelled or failed transfer leaves no partial
// cache file.
func (q *Queue) transfer(ctx context.Context, assetID, cacheDir, signedURL string) (string, cache.Format, error) {
	tmpPath := filepath.Join(cacheDir, ".tmp-"+uuid.NewString())
	defer os.Remove(tmpPath)

	if err := q.downloadWithRetry(ctx, signedURL, tmpPath); err != nil {
		return "", cache.FormatUnknown, err
	}

	head, err := readLeadingBytes(tmpPath)
	if err != nil {
		return "", cache.FormatUnknown, errors.Wrap(err, "sniff downloaded file")
	}
	format := cache.SniffFormat(head)

	if err := ctx.Err(); err != nil {
		return "", cache.FormatUnknown, err
	}

	finalPath := filepath.Join(cacheDir, cache.FileName(assetID, format))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", cache.FormatUnknown, errors.Wrap(err, "move into cache")
	}
	return finalPath, format, nil
}

// downloadWithRetry retries transient transfer failures. A 403, an
// unexpected status or a cancellation is terminal immediately.
func (q *Queue) downloadWithRetry(ctx context.Context, signedURL, destPath string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initialRetryDelay),
		), maxTransferRetries),
		ctx,
	)
	attempt := 0
	operation := func() error {
		attempt++
		err := q.api.DownloadAsset(ctx, signedURL, destPath)
		if err == nil {
			return nil
		}
		var statusErr *catalog.StatusError
		if errors.Is(err, catalog.ErrForbidden) || errors.As(err, &statusErr) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		q.log.Warn().Err(err).Int("attempt", attempt).Msg("transfer failed, will retry")
		return err
	}
	return backoff.Retry(operation, policy)
}

func readLeadingBytes(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, 1)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// A zero-length download sniffs as Unknown rather than failing.
	return head[:n], nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
