package metadata

import (
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// DefaultCacheSize bounds the number of projections kept per generation.
const DefaultCacheSize = 1024

type cacheKey struct {
	index int
	shape reflect.Type
}

type projection struct {
	value any
	err   error
}

// Cache memoizes projections of one generation's records, keyed by record index and shape.
// A generation never changes once published, so entries never go stale; the cache is dropped
// together with its generation. A nil *Cache projects without caching.
type Cache struct {
	entries *lru.Cache[cacheKey, projection]
}

// NewCache creates a cache holding at most size projections. Non-positive sizes use
// DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, projection](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Cache{entries: entries}
}

// Len returns the number of cached projections.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// ProjectCached projects md onto M, reusing an earlier result for the same record index.
func ProjectCached[M any](c *Cache, index int, md capability.Metadata) (M, error) {
	if c == nil {
		return Project[M](md)
	}

	key := cacheKey{index: index, shape: reflect.TypeFor[M]()}
	if p, ok := c.entries.Get(key); ok {
		if p.err != nil {
			var zero M
			return zero, p.err
		}
		return p.value.(M), nil
	}

	m, err := Project[M](md)
	c.entries.Add(key, projection{value: m, err: err})
	return m, err
}
