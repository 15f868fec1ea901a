package cache

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache keeps course ids in process memory.
type LocalCache struct {
	cache *gocache.Cache
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalCache{cache: gocache.New(ttl, ttl/2)}
}

func (lc *LocalCache) GetCourseID(slug string) (string, bool) {
	v, ok := lc.cache.Get(courseKey(slug))
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func (lc *LocalCache) SaveCourseID(slug, id string) {
	lc.cache.Set(courseKey(slug), id, gocache.DefaultExpiration)
	slog.Debug("course id saved to local cache.", slog.String("slug", slug))
}

func (lc *LocalCache) Close() {
	lc.cache.Flush()
}
