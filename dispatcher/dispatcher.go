package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zly-app/zapp/log"
	"github.com/zly-app/zapp/pkg/utils"
	"go.uber.org/zap"

	"github.com/zlyuancn/shardscan/classifier"
	"github.com/zlyuancn/shardscan/collector"
	"github.com/zlyuancn/shardscan/compressor"
	"github.com/zlyuancn/shardscan/handler"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/planner"
	"github.com/zlyuancn/shardscan/querycontext"
	"github.com/zlyuancn/shardscan/segment_cache"
	"github.com/zlyuancn/shardscan/store"
)

// 一次分发的参数
type Request struct {
	QueryId      string
	Segment      *model.Segment
	VisitRequest []byte        // 序列化后的访问请求, 所有分片共享
	Timeout      time.Duration // 结果流超时, 从分发开始计算
	MaxScanBytes int64         // 整个查询的扫描字节上限

	Compressed        bool // 存储端返回的结果是否压缩
	CompressType      compressor.CompressType
	MaxUnCompressSize int64 // 单个分片结果解压后的上限, <= 0 表示不限制

	QueryContext *querycontext.QueryContext

	// 不为空时全部分片成功后写入分段缓存
	CacheKey     string
	Cache        segment_cache.SegmentCache
	CacheMaxSize int
}

type Dispatcher struct {
	visitor store.Visitor
}

func NewDispatcher(visitor store.Visitor) *Dispatcher {
	return &Dispatcher{visitor: visitor}
}

// 分发到所有分片范围, 立即返回结果迭代器, 远程调用在协程池中执行
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, ranges []model.ShardRange) *collector.ExpectedSizeIterator {
	it := collector.New(len(ranges), req.Timeout)
	if len(ranges) == 0 {
		return it
	}

	qc := req.QueryContext
	if qc == nil {
		qc = querycontext.New(req.QueryId)
	}
	dp := &dispatch{
		visitor: d.visitor,
		req:     req,
		qc:      qc,
		it:      it,
	}
	dp.remaining.Store(int32(len(ranges)))
	if req.CacheKey != "" && req.Cache != nil {
		dp.builder = model.NewSegmentQueryResultBuilder(planner.CountShards(ranges), req.CacheMaxSize)
		if req.Compressed {
			dp.builder.SetCompression(string(req.CompressType))
		}
	}

	// 任务与调用方的取消解耦, 远程调用最多比结果流多等待一个超时周期
	taskCtx, cancel := context.WithTimeout(utils.Ctx.CloneContext(ctx), 2*req.Timeout)
	dp.cancel = cancel

	p, err := getPool()
	if err != nil {
		log.Error(ctx, "Dispatch call getPool fail.", zap.Error(err))
		for _, r := range ranges {
			dp.latch(taskCtx, model.NewVisitError(model.ErrTransport, "submit range "+r.String(), err))
			dp.finish(taskCtx)
		}
		return it
	}

	go func() {
		for _, r := range ranges {
			err := p.Submit(func() {
				dp.run(taskCtx, r)
			})
			if err != nil {
				dp.latch(taskCtx, model.NewVisitError(model.ErrTransport, "submit range "+r.String(), err))
				dp.finish(taskCtx)
			}
		}
	}()
	return it
}

type dispatch struct {
	visitor store.Visitor
	req     *Request
	qc      *querycontext.QueryContext
	it      *collector.ExpectedSizeIterator
	builder *model.SegmentQueryResultBuilder
	cancel  context.CancelFunc

	remaining atomic.Int32

	mx  sync.Mutex
	err error
}

// 锁存第一个错误, 首次锁存时输出日志
func (dp *dispatch) latch(ctx context.Context, err error) {
	dp.mx.Lock()
	first := dp.err == nil
	if first {
		dp.err = err
	}
	dp.mx.Unlock()
	if !first {
		return
	}

	dp.it.NotifyError(err)
	log.Error(ctx, "Dispatch fail.", zap.String("queryId", dp.req.QueryId), zap.String("segment", dp.req.Segment.Name), zap.Error(err))
	handler.Trigger(ctx, handler.DispatchFailed, &handler.Info{
		QueryId: dp.req.QueryId,
		Segment: dp.req.Segment,
		Err:     err,
	})
}

func (dp *dispatch) latched() error {
	dp.mx.Lock()
	defer dp.mx.Unlock()
	return dp.err
}

func (dp *dispatch) run(ctx context.Context, r model.ShardRange) {
	defer dp.finish(ctx)
	defer func() {
		if p := recover(); p != nil {
			dp.latch(ctx, model.NewVisitError(model.ErrProtocolDrift, fmt.Sprint(p), nil))
		}
	}()

	err := dp.visitor.Visit(ctx, r.StartKey(), r.EndKey(), dp.req.VisitRequest, func(rsp *model.VisitResponse) {
		dp.onResponse(ctx, rsp)
	})
	if err != nil {
		dp.latch(ctx, model.NewVisitError(model.ErrTransport, "visit range "+r.String(), err))
	}
}

// 一个范围任务结束. 最后一个任务在通知消费者之前写入缓存
func (dp *dispatch) finish(ctx context.Context) {
	if dp.remaining.Add(-1) == 0 {
		defer dp.cancel()
		if dp.latched() == nil {
			dp.putCache(ctx)
			handler.Trigger(ctx, handler.DispatchFinished, &handler.Info{
				QueryId: dp.req.QueryId,
				Segment: dp.req.Segment,
			})
		}
	}

	if err := dp.latched(); err != nil {
		dp.it.NotifyError(err)
	} else {
		dp.it.ProducerDone()
	}
}

func (dp *dispatch) onResponse(ctx context.Context, rsp *model.VisitResponse) {
	qc := dp.qc
	seg := dp.req.Segment

	scannedRows := qc.AddAndGetScannedRows(rsp.Stats.ScannedRowCount)
	scannedBytes := qc.AddAndGetScannedBytes(rsp.Stats.ScannedBytes)
	qc.AddRPCStatistics(&querycontext.RPCStatistics{
		Segment:        seg.Name,
		Shard:          rsp.Shard,
		Hostname:       rsp.Stats.Hostname,
		ElapsedMs:      rsp.Stats.ElapsedMs(),
		ScannedRows:    rsp.Stats.ScannedRowCount,
		ScannedBytes:   rsp.Stats.ScannedBytes,
		FilteredRows:   rsp.Stats.FilteredRowCount,
		AggregatedRows: rsp.Stats.AggregatedRowCount,
		ReturnedBytes:  int64(len(rsp.CompressedRows)),
	})
	handler.Trigger(ctx, handler.AfterShardVisit, &handler.Info{
		QueryId: dp.req.QueryId,
		Segment: seg,
		Shard:   rsp.Shard,
		Stats:   &rsp.Stats,
	})
	log.Info(ctx, "shard visit returned",
		zap.String("queryId", dp.req.QueryId),
		zap.String("table", seg.StorageLocation),
		zap.Uint16("shard", rsp.Shard),
		zap.String("host", rsp.Stats.Hostname),
		zap.Int64("scannedRows", rsp.Stats.ScannedRowCount),
		zap.Int64("scannedBytes", rsp.Stats.ScannedBytes),
		zap.Int64("filteredRows", rsp.Stats.FilteredRowCount),
		zap.Int64("aggregatedRows", rsp.Stats.AggregatedRowCount),
		zap.Int64("elapsedMs", rsp.Stats.ElapsedMs()),
		zap.Float64("cpuLoad", rsp.Stats.SystemCpuLoad),
		zap.Float64("freePhysicalMemory", rsp.Stats.FreePhysicalMemorySize),
		zap.Float64("freeSwapSpace", rsp.Stats.FreeSwapSpaceSize),
		zap.String("etcMsg", rsp.Stats.EtcMsg),
		zap.Int32("normalComplete", rsp.Stats.NormalComplete),
		zap.Int("compressedSize", len(rsp.CompressedRows)),
		zap.Int64("queryScannedRows", scannedRows),
		zap.Int64("queryScannedBytes", scannedBytes),
	)

	if classifier.IsAbnormal(rsp) {
		dp.latch(ctx, classifier.CoprocessorError(rsp))
		return
	}
	if dp.latched() != nil {
		return
	}
	if dp.req.MaxScanBytes > 0 && scannedBytes > dp.req.MaxScanBytes {
		dp.latch(ctx, model.NewVisitError(model.ErrResourceLimitExceeded,
			fmt.Sprintf("query scanned %d bytes, exceeds limit %d", scannedBytes, dp.req.MaxScanBytes), nil))
		return
	}

	payload := rsp.CompressedRows
	if dp.req.Compressed {
		data, err := compressor.UnCompress(dp.req.CompressType, payload, dp.req.MaxUnCompressSize)
		if err != nil {
			dp.latch(ctx, model.NewVisitError(model.ErrCoprocessorFailed, fmt.Sprintf("uncompress result of shard %d", rsp.Shard), err))
			return
		}
		payload = data
	}
	if dp.builder != nil {
		dp.builder.PutRegionResult(rsp.CompressedRows)
	}
	dp.it.Append(payload)
}

func (dp *dispatch) putCache(ctx context.Context) {
	if dp.builder == nil {
		return
	}

	seg := dp.req.Segment
	stats := dp.qc.SegmentStatistics(seg.CubeName, seg.Name, seg.CuboidId)
	statsBytes, err := querycontext.MarshalSegmentStatistics(stats)
	if err != nil {
		log.Error(ctx, "putCache call MarshalSegmentStatistics fail.", zap.Error(err))
		return
	}
	dp.builder.SetSegmentStatistics(statsBytes)
	if !dp.builder.IsComplete() {
		log.Info(ctx, "segment result is not cached since it is incomplete or too large",
			zap.String("queryId", dp.req.QueryId), zap.String("segment", seg.Name))
		return
	}

	dp.req.Cache.Put(ctx, dp.req.CacheKey, dp.builder.Build())
	handler.Trigger(ctx, handler.AfterSegmentCachePut, &handler.Info{
		QueryId:  dp.req.QueryId,
		Segment:  seg,
		CacheKey: dp.req.CacheKey,
	})
}
