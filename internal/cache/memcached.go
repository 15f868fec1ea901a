package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal"
)

// CachedClient remembers Udemy course ids by course slug.
type CachedClient interface {
	GetCourseID(slug string) (string, bool)
	SaveCourseID(slug, id string)
	Close()
}

// NewCachedClient uses memcached when servers are configured and an
// in-process cache otherwise.
func NewCachedClient(cacheConfig *config.CacheConfig) CachedClient {
	if len(cacheConfig.Servers) == 0 {
		slog.Info("no memcached servers configured. using local cache.")
		return NewLocalCache(cacheConfig.TtlForCourse)
	}
	return NewMemcachedClient(cacheConfig)
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) GetCourseID(slug string) (string, bool) {
	key := courseKey(slug)
	item, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("failed to read course id from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return "", false
	}
	var id string
	if err = jsoniter.Unmarshal(item.Value, &id); err != nil || id == "" {
		slog.Warn("broken course id in cache.", slog.String("key", key))
		return "", false
	}
	return id, true
}

func (mc *MemcachedClient) SaveCourseID(slug, id string) {
	key := courseKey(slug)
	if err := mc.set(key, id, mc.cfg.TtlForCourse); err != nil {
		slog.Error("failed to save course id to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("course id saved to cache.", slog.String("key", key), slog.String("slug", slug))
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, ttl time.Duration) error {
	byteValue, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: int32(ttl.Seconds()),
	}

	return mc.client.Set(item)
}

func courseKey(slug string) string {
	return fmt.Sprintf("%s-udemy-course", internal.HashURL(slug))
}
