package syslog

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"

	"github.com/zlyuancn/shardscan/conf"
	"github.com/zlyuancn/shardscan/handler"
)

type logLevel byte

const (
	levelInfo logLevel = iota
	levelWarn
	levelErr
)

var sl = &sysLog{}

// 查询事件日志, 订阅分发和缓存事件
type sysLog struct {
	level logLevel
	write bool
}

func Init() {
	sl = &sysLog{}

	if !conf.Conf.SysLogEnabled {
		return
	}

	sl.write = true
	sl.level = parseLevel(conf.Conf.SysLogWriteLevel)

	handler.AddHandler(handler.DispatchFailed, sl.queryHandler)
	handler.AddHandler(handler.DispatchFinished, sl.queryHandler)
	handler.AddHandler(handler.SegmentCacheHit, sl.queryHandler)
	handler.AddHandler(handler.SegmentCacheMiss, sl.queryHandler)
	handler.AddHandler(handler.AfterSegmentCachePut, sl.queryHandler)
}

// 等级限制
func parseLevel(s string) logLevel {
	switch strings.ToLower(s) {
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "err":
		return levelErr
	}
	return levelInfo
}

func (j *sysLog) queryHandler(ctx context.Context, handlerType handler.HandlerType, info *handler.Info) {
	switch handlerType {
	case handler.DispatchFailed:
		j.Log(ctx, levelErr, "dispatch failed", info, zap.Error(info.Err))
	case handler.DispatchFinished:
		j.Log(ctx, levelInfo, "dispatch finished", info)
	case handler.SegmentCacheHit:
		j.Log(ctx, levelInfo, "segment cache hit", info, zap.String("cacheKey", info.CacheKey))
	case handler.SegmentCacheMiss:
		j.Log(ctx, levelInfo, "segment cache miss", info, zap.String("cacheKey", info.CacheKey))
	case handler.AfterSegmentCachePut:
		j.Log(ctx, levelInfo, "segment cache put", info, zap.String("cacheKey", info.CacheKey))
	}
}

// 写入一条事件日志, 返回是否写入
func (j *sysLog) Log(ctx context.Context, level logLevel, remark string, info *handler.Info, fields ...zap.Field) bool {
	if !j.write || level < j.level {
		return false
	}

	fields = append(fields, zap.String("queryId", info.QueryId), zap.Int64("createTime", info.T.UnixMicro()))
	if info.Segment != nil {
		extend, _ := sonic.MarshalString(info.Segment)
		fields = append(fields, zap.String("extend", extend))
	}

	switch level {
	case levelErr:
		log.Error(ctx, remark, fields...)
	case levelWarn:
		log.Warn(ctx, remark, fields...)
	default:
		log.Info(ctx, remark, fields...)
	}
	return true
}
