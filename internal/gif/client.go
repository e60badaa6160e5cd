// Package gif proxies GIF search to the external provider. Responses are cached in Valkey for a short TTL because the
// provider rate-limits aggressively and popular queries repeat constantly.
package gif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// searchLimit is how many results one search returns from the provider.
const searchLimit = 20

// Client searches the external GIF provider with a Valkey-backed response cache.
type Client struct {
	providerURL string
	apiKey      string
	httpClient  *http.Client
	cache       *redis.Client
	cacheTTL    time.Duration
	log         zerolog.Logger
}

// NewClient creates a GIF search client. The cache client may be nil, in which case every search hits the provider.
func NewClient(providerURL, apiKey string, timeout time.Duration, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		providerURL: providerURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		cache:       cache,
		cacheTTL:    cacheTTL,
		log:         logger.With().Str("component", "gif").Logger(),
	}
}

// Search returns the provider's raw JSON response for the query, serving repeated queries from cache. Cache failures
// are logged and fall through to the provider.
func (c *Client) Search(ctx context.Context, query string) ([]byte, error) {
	key := cacheKey(query)

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, key).Bytes()
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("GIF cache read failed")
		}
	}

	body, err := c.fetch(ctx, query)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL).Err(); err != nil {
			c.log.Warn().Err(err).Msg("GIF cache write failed")
		}
	}

	return body, nil
}

// fetch performs one provider request.
func (c *Client) fetch(ctx context.Context, query string) ([]byte, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("q", query)
	params.Set("limit", fmt.Sprint(searchLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.providerURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build gif search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gif search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gif provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gif search response: %w", err)
	}
	return body, nil
}

func cacheKey(query string) string {
	return "gif:search:" + strings.ToLower(strings.TrimSpace(query))
}
