package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"

	"github.com/zlyuancn/shardscan/client/db"
	"github.com/zlyuancn/shardscan/collector"
	"github.com/zlyuancn/shardscan/compressor"
	"github.com/zlyuancn/shardscan/conf"
	"github.com/zlyuancn/shardscan/dispatcher"
	"github.com/zlyuancn/shardscan/handler"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/planner"
	"github.com/zlyuancn/shardscan/querycontext"
	"github.com/zlyuancn/shardscan/segment_cache"
	"github.com/zlyuancn/shardscan/serializer"
	"github.com/zlyuancn/shardscan/store"
)

var ErrInvalidSegment = errors.New("invalid segment")

type ScanOptions struct {
	QueryId             string // 为空时自动生成
	IsExactAggregate    bool
	DisableSegmentCache bool // 单次查询关闭分段缓存
	QueryContext        *querycontext.QueryContext // 为空时从 ctx 获取
}

type visitCli struct {
	dispatcher *dispatcher.Dispatcher
	cache      segment_cache.SegmentCache // 可能为 nil
}

var Visit *visitCli

func InitVisit() {
	conn, err := db.GetStoreConn()
	if err != nil {
		log.Fatal("init visit fail", zap.Error(err))
	}
	segment_cache.InitSegmentCache()
	Visit = NewVisit(store.NewGrpcVisitor(conn), segment_cache.GetSegmentCache())
}

func NewVisit(visitor store.Visitor, cache segment_cache.SegmentCache) *visitCli {
	return &visitCli{
		dispatcher: dispatcher.NewDispatcher(visitor),
		cache:      cache,
	}
}

func checkSegment(seg *model.Segment) error {
	switch {
	case seg == nil:
		return fmt.Errorf("%w: nil segment", ErrInvalidSegment)
	case seg.TotalShards == 0:
		return fmt.Errorf("%w: total shards of %s is 0", ErrInvalidSegment, seg)
	case seg.BaseShard >= seg.TotalShards:
		return fmt.Errorf("%w: base shard %d of %s out of total shards %d", ErrInvalidSegment, seg.BaseShard, seg, seg.TotalShards)
	case seg.ShardNum > seg.TotalShards:
		return fmt.Errorf("%w: shard num %d of %s exceeds total shards %d", ErrInvalidSegment, seg.ShardNum, seg, seg.TotalShards)
	}
	return nil
}

// 分段缓存是否可用
func (v *visitCli) segmentCacheEnabled(opts *ScanOptions) bool {
	return conf.Conf.SegmentCacheEnabled && v.cache != nil && !opts.DisableSegmentCache
}

// 扫描一个分段, 返回的结果流在后台持续填充
func (v *visitCli) Scan(ctx context.Context, seg *model.Segment, scanReq *model.ScanRequest, opts *ScanOptions) (*collector.ExpectedSizeIterator, error) {
	if err := checkSegment(seg); err != nil {
		log.Error(ctx, "Scan call checkSegment fail.", zap.Error(err))
		return nil, err
	}
	if scanReq == nil {
		return nil, errors.New("nil scan request")
	}
	if opts == nil {
		opts = &ScanOptions{}
	}

	queryId := opts.QueryId
	if queryId == "" {
		queryId = uuid.NewString()
	}
	qc := opts.QueryContext
	if qc == nil {
		qc = querycontext.FromContext(ctx)
	}
	if qc == nil {
		qc = querycontext.New(queryId)
	}
	compressType := compressor.ParseCompressType(conf.Conf.CompressType)
	bufSize := conf.Conf.SerializeBufferSize

	// 分段缓存
	var cacheKey string
	if v.segmentCacheEnabled(opts) {
		cacheKey = CacheKey.GetSegmentQuery(seg, serializer.ScanRequestFingerprint(bufSize, scanReq, opts.IsExactAggregate))
		if it, ok := v.scanFromCache(ctx, queryId, seg, cacheKey, qc); ok {
			return it, nil
		}
	}

	ranges := planner.ComputeRanges(seg.BaseShard, seg.ShardNum, seg.TotalShards)

	selectedColBlocks := scanReq.SelectedColBlocks()
	rawScans := planner.PrepareRawScans(seg, scanReq.ScanRanges, selectedColBlocks)
	rawScanBytes := serializer.SerializeRawScans(bufSize, rawScans)

	// 扫描区间已转为原始扫描, 不再发送. 超时写入请求让存储端自行中止
	toStore := scanReq.Clone()
	toStore.ScanRanges = nil
	toStore.TimeoutMs = conf.Conf.CoprocessorTimeoutMs
	scanReqBytes := serializer.SerializeScanRequest(bufSize, toStore)

	properties, err := sonic.MarshalString(conf.Conf.ExportStoreProperties())
	if err != nil {
		log.Error(ctx, "Scan call MarshalString properties fail.", zap.Error(err))
		return nil, err
	}

	visitReqBytes := serializer.SerializeVisitRequest(bufSize, &model.VisitRequest{
		ScanRequest:        scanReqBytes,
		RawScan:            rawScanBytes,
		ColumnsToGT:        planner.ColumnsGTMapping(seg, selectedColBlocks),
		RowKeyPreambleSize: seg.RowKeyPreambleSize,
		QueryId:            queryId,
		SpillEnabled:       conf.Conf.SpillEnabled,
		MaxScanBytes:       conf.Conf.PartitionMaxScanBytes,
		IsExactAggregate:   opts.IsExactAggregate,
		Properties:         properties,
	})

	log.Info(ctx, "Scan dispatch",
		zap.String("queryId", queryId),
		zap.String("segment", seg.String()),
		zap.String("table", seg.StorageLocation),
		zap.Int64("cuboidId", seg.CuboidId),
		zap.Stringers("ranges", ranges),
		zap.Int("scanRequestSize", len(scanReqBytes)),
		zap.Int("rawScanSize", len(rawScanBytes)),
		zap.Int("visitRequestSize", len(visitReqBytes)),
		zap.Strings("rawScans", dumpRawScans(rawScans)),
	)

	req := &dispatcher.Request{
		QueryId:           queryId,
		Segment:           seg,
		VisitRequest:      visitReqBytes,
		Timeout:           time.Duration(conf.Conf.CoprocessorTimeoutMs*int64(conf.Conf.QueryTimeoutRatio)) * time.Millisecond,
		MaxScanBytes:      conf.Conf.QueryMaxScanBytes,
		Compressed:        conf.Conf.CompressionResult,
		CompressType:      compressType,
		MaxUnCompressSize: conf.Conf.MaxUnCompressSize(),
		QueryContext:      qc,
	}
	if cacheKey != "" {
		req.CacheKey = cacheKey
		req.Cache = v.cache
		req.CacheMaxSize = conf.Conf.SegmentCacheMaxSize()
	}
	return v.dispatcher.Dispatch(ctx, req, ranges), nil
}

// 从分段缓存读取, 任何失败都视为未命中
func (v *visitCli) scanFromCache(ctx context.Context, queryId string, seg *model.Segment, cacheKey string,
	qc *querycontext.QueryContext) (*collector.ExpectedSizeIterator, bool) {
	info := &handler.Info{QueryId: queryId, Segment: seg, CacheKey: cacheKey}

	result, ok := v.cache.Get(ctx, cacheKey)
	if !ok {
		handler.Trigger(ctx, handler.SegmentCacheMiss, info)
		return nil, false
	}

	// 按写入时的压缩类型解压, 与当前配置无关
	compressType := compressor.ParseCompressType(result.Compression)
	if result.Compression != "" && string(compressType) != result.Compression {
		log.Error(ctx, "scanFromCache fail. unknown compression", zap.String("queryId", queryId), zap.String("compression", result.Compression))
		handler.Trigger(ctx, handler.SegmentCacheMiss, info)
		return nil, false
	}

	chunks := make([][]byte, 0, len(result.RegionResults))
	for _, bs := range result.RegionResults {
		if result.Compression != "" {
			data, err := compressor.UnCompress(compressType, bs, conf.Conf.MaxUnCompressSize())
			if err != nil {
				log.Error(ctx, "scanFromCache call UnCompress fail.", zap.String("queryId", queryId), zap.Error(err))
				handler.Trigger(ctx, handler.SegmentCacheMiss, info)
				return nil, false
			}
			bs = data
		}
		chunks = append(chunks, bs)
	}

	err := qc.MergeSegmentStatistics(result.SegmentStatistics)
	if err != nil {
		log.Error(ctx, "scanFromCache call MergeSegmentStatistics fail.", zap.String("queryId", queryId), zap.Error(err))
	}

	log.Info(ctx, "Scan hit segment cache",
		zap.String("queryId", queryId),
		zap.String("segment", seg.String()),
		zap.Int("regions", len(chunks)),
		zap.Int("size", result.Size()),
	)
	handler.Trigger(ctx, handler.SegmentCacheHit, info)
	return collector.NewFromChunks(chunks), true
}

func dumpRawScans(rawScans []*model.RawScan) []string {
	ret := make([]string, len(rawScans))
	for i, rs := range rawScans {
		ret[i] = fmt.Sprintf("start=%s end=%s columns=%d fuzzyKeys=%d",
			serializer.ToStringBinary(rs.StartKey), serializer.ToStringBinary(rs.EndKey), len(rs.Columns), len(rs.FuzzyKeys))
	}
	return ret
}
