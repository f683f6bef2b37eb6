package segment_cache

import (
	"context"
	"time"

	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"

	"github.com/zlyuancn/shardscan/client/db"
	"github.com/zlyuancn/shardscan/conf"
)

var defCache SegmentCache

// 根据配置初始化进程共享的分段缓存, 未启用时 GetSegmentCache 返回 nil
func InitSegmentCache() {
	if !conf.Conf.SegmentCacheEnabled {
		return
	}

	opts := Options{
		LruCount:  conf.Conf.SegmentCacheLruCount,
		Ttl:       time.Duration(conf.Conf.SegmentCacheTtlSec) * time.Second,
		MaxSize:   conf.Conf.SegmentCacheMaxSize(),
		KeyPrefix: conf.Conf.SegmentCacheKeyPrefix,
	}
	rc, err := db.GetSegmentCacheRedis()
	if err != nil {
		log.Error("InitSegmentCache call GetSegmentCacheRedis fail, use local cache only.", zap.Error(err))
	} else if rc != nil {
		opts.Redis = rc
	}
	defCache = New(opts)
}

func GetSegmentCache() SegmentCache {
	return defCache
}

// 输出缓存统计
func LogStats(ctx context.Context) {
	if defCache == nil {
		return
	}
	s := defCache.Stats()
	log.Info(ctx, "segment cache stats",
		zap.Int64("localHits", s.LocalHits),
		zap.Int64("redisHits", s.RedisHits),
		zap.Int64("misses", s.Misses),
		zap.Int64("puts", s.Puts),
		zap.Int64("oversize", s.Oversize),
		zap.Int64("errors", s.Errors),
		zap.Int("localCount", s.LocalCount),
	)
}
