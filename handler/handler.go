package handler

import (
	"context"
	"time"

	"github.com/zly-app/zapp/component/gpool"
	"github.com/zly-app/zapp/pkg/utils"

	"github.com/zlyuancn/shardscan/model"
)

type Info struct {
	T        time.Time      // 触发时间
	QueryId  string         // 查询id
	Segment  *model.Segment // 分段
	Shard    uint16         // 分片, 分片相关事件有效
	Stats    *model.Stats   // 存储端统计, 分片访问后有效
	CacheKey string         // 分段缓存key, 缓存相关事件有效
	Err      error          // 失败事件的错误
}

// 未启用异步时 handler 在分发任务中同步执行, 不能阻塞
type Handler func(ctx context.Context, handlerType HandlerType, info *Info)

var handlers = map[HandlerType][]Handler{}

// 异步执行方式, 为空时同步执行
var goFn func(fn func())

type HandlerType int

const (
	// 分片访问响应后
	AfterShardVisit HandlerType = iota

	// 分发失败, 每次分发最多触发一次
	DispatchFailed
	// 分发成功完成
	DispatchFinished

	// 分段缓存命中
	SegmentCacheHit
	// 分段缓存未命中
	SegmentCacheMiss
	// 分段结果写入缓存后
	AfterSegmentCachePut
)

// 添加handler, 应在服务启动前调用
func AddHandler(t HandlerType, hs ...Handler) {
	handlers[t] = append(handlers[t], hs...)
}

// 启用异步触发, handler 在默认协程池中执行. 应在 app 初始化后调用
func EnableAsync() {
	goFn = func(fn func()) {
		gpool.GetDefGPool().Go(func() error {
			fn()
			return nil
		}, nil)
	}
}

// 触发
func Trigger(ctx context.Context, handlerType HandlerType, info *Info) {
	hs := handlers[handlerType]
	if len(hs) == 0 {
		return
	}
	if info.T.IsZero() {
		info.T = time.Now()
	}
	if goFn == nil {
		for _, h := range hs {
			h(ctx, handlerType, info)
		}
		return
	}

	cloneCtx := utils.Ctx.CloneContext(ctx)
	goFn(func() {
		for _, h := range hs {
			h(cloneCtx, handlerType, info)
		}
	})
}

// 清除所有handler
func Reset() {
	handlers = map[HandlerType][]Handler{}
}
