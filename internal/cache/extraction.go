package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
)

// ExtractionCache stores extraction outcomes keyed by document digest and model.
// Cache errors are logged and treated as misses.
type ExtractionCache struct {
	client Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewExtractionCache wraps client.
func NewExtractionCache(client Client, ttl time.Duration, logger *observability.Logger) *ExtractionCache {
	if logger == nil {
		logger = observability.Nop()
	}
	return &ExtractionCache{client: client, ttl: ttl, logger: logger.WithOperation("extraction_cache")}
}

// DocumentKey returns the cache key for a document rendered with model.
func DocumentKey(model string, data []byte) string {
	sum := sha256.Sum256(data)
	return Key("extract", model, hex.EncodeToString(sum[:]))
}

// Get returns a cached outcome for the document, if present.
func (c *ExtractionCache) Get(ctx context.Context, model string, data []byte) (*domain.ExtractionOutcome, bool) {
	key := DocumentKey(model, data)
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}

	var outcome domain.ExtractionOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cached outcome is corrupt")
		_ = c.client.Delete(ctx, key)
		return nil, false
	}
	if outcome.Pages == nil {
		outcome.Pages = domain.PageResult{}
	}
	if outcome.Skipped == nil {
		outcome.Skipped = []int{}
	}
	return &outcome, true
}

// Put caches a complete outcome. Outcomes with skipped pages are not cached so
// the next upload of the same document extracts it again.
func (c *ExtractionCache) Put(ctx context.Context, model string, data []byte, outcome *domain.ExtractionOutcome) {
	if outcome == nil || len(outcome.Pages) == 0 || len(outcome.Skipped) > 0 {
		return
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	key := DocumentKey(model, data)
	if err := c.client.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
