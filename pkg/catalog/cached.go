package catalog

import (
	"context"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/cache/sqlite"
	"github.com/skygate-io/skygate/pkg/models"
)

// CachedSearcher wraps a Client with the search-result cache. Only searches
// are cached; quotes and orders always go upstream.
type CachedSearcher struct {
	client *Client
	cache  *sqlite.Cache
	logger pslog.Logger
}

// NewCachedSearcher wraps client with cache.
func NewCachedSearcher(client *Client, cache *sqlite.Cache, logger pslog.Logger) *CachedSearcher {
	return &CachedSearcher{client: client, cache: cache, logger: logger}
}

// SearchArchives serves an exact repeat of a recent search from the cache.
// The cache key is built after the client's low-cost pinning so a pinned
// and an unpinned request never share an entry.
func (s *CachedSearcher) SearchArchives(ctx context.Context, apiKey string, req models.SearchRequest) ([]models.Archive, error) {
	if s.client.cfg.ForceLowestCost {
		req.Resolution = "LOW"
		req.OpenData = true
	}
	hash := sqlite.HashRequest(req)
	if archives, ok := s.cache.Get(hash); ok {
		s.logger.Debug("catalog.search.cached", "results", len(archives))
		return archives, nil
	}

	archives, err := s.client.SearchArchives(ctx, apiKey, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(hash, archives); err != nil {
		s.logger.Warn("catalog.search.cache_put", "error", err)
	}
	return archives, nil
}
