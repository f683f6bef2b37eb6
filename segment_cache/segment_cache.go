package segment_cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/serializer"
)

// 分段结果缓存. 任何后端错误都视为未命中, 不会导致查询失败
type SegmentCache interface {
	Get(ctx context.Context, key string) (*model.SegmentQueryResult, bool)
	Put(ctx context.Context, key string, v *model.SegmentQueryResult)
	Stats() Stats
}

// redis 后端需要的命令
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Options struct {
	LruCount  int
	Ttl       time.Duration
	MaxSize   int         // 单条序列化后的最大字节数
	Redis     RedisClient // 为 nil 表示只使用本地缓存
	KeyPrefix string      // redis key 前缀
}

type Stats struct {
	LocalHits  int64
	RedisHits  int64
	Misses     int64
	Puts       int64
	Oversize   int64
	Errors     int64
	LocalCount int
}

type segmentCache struct {
	opts  Options
	local *expirable.LRU[string, []byte]
	sf    singleflight.Group

	localHits atomic.Int64
	redisHits atomic.Int64
	misses    atomic.Int64
	puts      atomic.Int64
	oversize  atomic.Int64
	errs      atomic.Int64
}

func New(opts Options) SegmentCache {
	return &segmentCache{
		opts:  opts,
		local: expirable.NewLRU[string, []byte](opts.LruCount, nil, opts.Ttl),
	}
}

func (c *segmentCache) Get(ctx context.Context, key string) (*model.SegmentQueryResult, bool) {
	bs, ok := c.local.Get(key)
	if ok {
		v, err := serializer.DeserializeSegmentQueryResult(bs)
		if err == nil {
			c.localHits.Add(1)
			return v, true
		}
		c.errs.Add(1)
		log.Error(ctx, "SegmentCache.Get call DeserializeSegmentQueryResult fail.", zap.String("key", key), zap.Error(err))
		c.local.Remove(key)
	}

	if c.opts.Redis == nil {
		c.misses.Add(1)
		return nil, false
	}

	bs, err := c.loadFromRedis(ctx, key)
	if err != nil || bs == nil {
		c.misses.Add(1)
		return nil, false
	}
	v, err := serializer.DeserializeSegmentQueryResult(bs)
	if err != nil {
		c.errs.Add(1)
		c.misses.Add(1)
		log.Error(ctx, "SegmentCache.Get call DeserializeSegmentQueryResult fail.", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	c.local.Add(key, bs)
	c.redisHits.Add(1)
	return v, true
}

// 从redis加载, 同一个key的并发请求合并. 不存在时返回 nil, nil
func (c *segmentCache) loadFromRedis(ctx context.Context, key string) ([]byte, error) {
	v, err, _ := c.sf.Do(key, func() (any, error) {
		bs, err := c.opts.Redis.Get(ctx, c.opts.KeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		if err != nil {
			c.errs.Add(1)
			log.Error(ctx, "SegmentCache.Get call redis Get fail.", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		return bs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *segmentCache) Put(ctx context.Context, key string, v *model.SegmentQueryResult) {
	bs := serializer.SerializeSegmentQueryResult(serializer.DefBufferSize, v)
	if len(bs) > c.opts.MaxSize {
		c.oversize.Add(1)
		log.Info(ctx, "SegmentCache.Put skip oversize result", zap.String("key", key), zap.Int("size", len(bs)), zap.Int("maxSize", c.opts.MaxSize))
		return
	}

	c.local.Add(key, bs)
	c.puts.Add(1)

	if c.opts.Redis == nil {
		return
	}
	err := c.opts.Redis.Set(ctx, c.opts.KeyPrefix+key, bs, c.opts.Ttl).Err()
	if err != nil {
		c.errs.Add(1)
		log.Error(ctx, "SegmentCache.Put call redis Set fail.", zap.String("key", key), zap.Error(err))
	}
}

func (c *segmentCache) Stats() Stats {
	return Stats{
		LocalHits:  c.localHits.Load(),
		RedisHits:  c.redisHits.Load(),
		Misses:     c.misses.Load(),
		Puts:       c.puts.Load(),
		Oversize:   c.oversize.Load(),
		Errors:     c.errs.Load(),
		LocalCount: c.local.Len(),
	}
}
