package client

import (
	"net/http"
	"os"
	"sync"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

// purgeableCache wraps an httpcache.Cache and remembers the keys written so
// cached responses for one user can be dropped when that user signs out.
type purgeableCache struct {
	httpcache.Cache

	mu   sync.Mutex
	keys map[string]struct{}
	dir  string
}

// newCache returns a disk backed cache when dir is set, otherwise an
// in-memory cache.
func newCache(dir string) *purgeableCache {
	if dir == "" {
		return &purgeableCache{
			Cache: httpcache.NewMemoryCache(),
			keys:  map[string]struct{}{},
		}
	}

	// Use disk-based cache for persistence across CLI invocations
	return &purgeableCache{
		Cache: diskcache.New(dir),
		keys:  map[string]struct{}{},
		dir:   dir,
	}
}

func (c *purgeableCache) Set(key string, resp []byte) {
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()

	c.Cache.Set(key, resp)
}

func (c *purgeableCache) Delete(key string) {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()

	c.Cache.Delete(key)
}

// Purge drops every cached response. For a disk cache this includes entries
// written by earlier processes.
func (c *purgeableCache) Purge() {
	c.mu.Lock()
	keys := c.keys
	c.keys = map[string]struct{}{}
	c.mu.Unlock()

	for key := range keys {
		c.Cache.Delete(key)
	}

	if c.dir != "" {
		if err := os.RemoveAll(c.dir); err != nil {
			log.Warn().Err(err).Str("dir", c.dir).Msg("failed to purge response cache")
		}
	}
}

// scopedCache is a view of a purgeableCache whose keys carry the scope of
// one credential.
type scopedCache struct {
	cache  *purgeableCache
	prefix string
}

func (c scopedCache) Get(key string) ([]byte, bool) { return c.cache.Get(c.prefix + key) }
func (c scopedCache) Set(key string, resp []byte) { c.cache.Set(c.prefix+key, resp) }
func (c scopedCache) Delete(key string) { c.cache.Delete(c.prefix + key) }

// cachingTransport layers an HTTP cache over next. Entries are keyed on the
// request URL and a fingerprint of its Authorization header, so a response
// cached for one account is never served to another. Cached responses are
// marked with the X-From-Cache header.
type cachingTransport struct {
	cache *purgeableCache
	next  http.RoundTripper

	mu     sync.Mutex
	scopes map[string]*httpcache.Transport
}

func newCachingTransport(cache *purgeableCache, next http.RoundTripper) *cachingTransport {
	return &cachingTransport{
		cache:  cache,
		next:   next,
		scopes: map[string]*httpcache.Transport{},
	}
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.scope(req.Header.Get("Authorization")).RoundTrip(req)
}

func (t *cachingTransport) scope(authorization string) *httpcache.Transport {
	key := "anon"
	if authorization != "" {
		key = tokenstore.Fingerprint(authorization)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ht, ok := t.scopes[key]; ok {
		return ht
	}

	ht := httpcache.NewTransport(scopedCache{cache: t.cache, prefix: key + ":"})
	ht.Transport = t.next
	ht.MarkCachedResponses = true
	t.scopes[key] = ht
	return ht
}

// reset forgets every scope. Called after the cache is purged.
func (t *cachingTransport) reset() {
	t.mu.Lock()
	t.scopes = map[string]*httpcache.Transport{}
	t.mu.Unlock()
}
