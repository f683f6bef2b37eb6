package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zlyuancn/shardscan/compressor"
	"github.com/zlyuancn/shardscan/handler"
	"github.com/zlyuancn/shardscan/internal/storetest"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/planner"
	"github.com/zlyuancn/shardscan/querycontext"
	"github.com/zlyuancn/shardscan/segment_cache"
	"github.com/zlyuancn/shardscan/serializer"
)

func makeSegment() *model.Segment {
	return &model.Segment{
		CubeName:        "sales",
		Name:            "seg1",
		Uuid:            "uuid1",
		StorageLocation: "SHARDSCAN_SALES",
		TotalShards:     5,
	}
}

func makeRequest(compressed bool) *Request {
	return &Request{
		QueryId: "q1",
		Segment: makeSegment(),
		VisitRequest: serializer.SerializeVisitRequest(serializer.DefBufferSize, &model.VisitRequest{
			QueryId: "q1",
		}),
		Timeout:      5 * time.Second,
		Compressed:   compressed,
		CompressType: compressor.CompressType_Lz4,
		QueryContext: querycontext.New("q1"),
	}
}

func fillStore(ms *storetest.MemStore, shards int) {
	for s := 0; s < shards; s++ {
		ms.PutRows(uint16(s), []byte(fmt.Sprintf("s%d-r0", s)), []byte(fmt.Sprintf("s%d-r1", s)))
	}
}

func collectRows(t *testing.T, chunks [][]byte) []string {
	var ret []string
	for _, c := range chunks {
		rows, err := serializer.DeserializeRows(c)
		if err != nil {
			t.Fatalf("DeserializeRows fail. err=%s", err)
		}
		for _, r := range rows {
			ret = append(ret, string(r))
		}
	}
	sort.Strings(ret)
	return ret
}

func TestDispatch_Success(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_Lz4, true)
	fillStore(ms, 5)

	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	req := makeRequest(true)
	req.CacheKey = "sales_uuid1_fp"
	req.Cache = cache
	req.CacheMaxSize = 1 << 20

	ranges := planner.ComputeRanges(3, 4, 5)
	it := NewDispatcher(ms).Dispatch(context.Background(), req, ranges)
	chunks, err := it.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect fail. err=%s", err)
	}

	got := collectRows(t, chunks)
	want := []string{"s0-r0", "s0-r1", "s1-r0", "s1-r1", "s3-r0", "s3-r1", "s4-r0", "s4-r1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("rows=%v want %v", got, want)
	}
	if ms.VisitCount() != int64(len(ranges)) {
		t.Fatalf("expect %d range visits, got %d", len(ranges), ms.VisitCount())
	}

	if req.QueryContext.ScannedRows() != 8 {
		t.Fatalf("expect 8 scanned rows, got %d", req.QueryContext.ScannedRows())
	}
	if len(req.QueryContext.RPCStatistics()) != 4 {
		t.Fatalf("expect 4 rpc statistics, got %d", len(req.QueryContext.RPCStatistics()))
	}

	cached, ok := cache.Get(context.Background(), req.CacheKey)
	if !ok {
		t.Fatalf("segment result should be cached")
	}
	if len(cached.RegionResults) != 4 || len(cached.SegmentStatistics) == 0 {
		t.Fatalf("unexpected cached result regions=%d stats=%d", len(cached.RegionResults), len(cached.SegmentStatistics))
	}
	if cached.Compression != string(compressor.CompressType_Lz4) {
		t.Fatalf("cached result should record its compression, got %q", cached.Compression)
	}
}

func TestDispatch_NoRanges(t *testing.T) {
	it := NewDispatcher(storetest.NewMemStore(compressor.CompressType_None, false)).Dispatch(context.Background(), makeRequest(false), nil)
	chunks, err := it.Collect(context.Background())
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expect empty stream, got %d chunks err=%v", len(chunks), err)
	}
}

func TestDispatch_RemoteResourceLimit(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_None, false)
	fillStore(ms, 3)
	ms.SetShardError(1, &model.ErrorInfo{Type: model.ErrorType_ResourceLimitExceeded, Message: "scanned too much"})

	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	req := makeRequest(false)
	req.CacheKey = "k"
	req.Cache = cache
	req.CacheMaxSize = 1 << 20

	ranges := []model.ShardRange{{Start: 0, End: 0}, {Start: 1, End: 1}, {Start: 2, End: 2}}
	it := NewDispatcher(ms).Dispatch(context.Background(), req, ranges)
	chunks, err := it.Collect(context.Background())
	if !errors.Is(err, model.ErrResourceLimitExceeded) {
		t.Fatalf("expect resource limit error, got %v", err)
	}
	if chunks != nil {
		t.Fatalf("no chunk should be returned after the error")
	}
	if it.Append([]byte("late")) {
		t.Fatalf("collector should reject chunks after the error")
	}
	if _, ok := cache.Get(context.Background(), "k"); ok {
		t.Fatalf("failed dispatch should not be cached")
	}
}

// 按分片执行预设脚本的访问者, 每个范围只包含一个分片
type scriptedVisitor map[uint16]func(cb func(rsp *model.VisitResponse)) error

func (v scriptedVisitor) Visit(ctx context.Context, startKey, endKey []byte, req []byte, cb func(rsp *model.VisitResponse)) error {
	shard, _ := model.ParseShardKey(startKey)
	return v[shard](cb)
}

func rowsResponse(shard uint16, rows ...string) *model.VisitResponse {
	bs := make([][]byte, len(rows))
	for i, r := range rows {
		bs[i] = []byte(r)
	}
	return &model.VisitResponse{
		Shard:          shard,
		CompressedRows: serializer.SerializeRows(serializer.DefBufferSize, bs),
		Stats:          model.Stats{ScannedRowCount: int64(len(rows)), NormalComplete: model.NormalComplete},
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, name string) {
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("wait %s timeout", name)
	}
}

// 分片0和2先返回数据, 分片1随后返回资源超限, 分片2在此之后的数据被丢弃
func TestDispatch_LatchDiscardsLaterResponses(t *testing.T) {
	proceed := make(chan struct{})
	failed := make(chan struct{})
	lateDone := make(chan struct{})

	v := scriptedVisitor{
		0: func(cb func(rsp *model.VisitResponse)) error {
			cb(rowsResponse(0, "s0"))
			return nil
		},
		1: func(cb func(rsp *model.VisitResponse)) error {
			<-proceed
			cb(&model.VisitResponse{
				Shard:     1,
				Stats:     model.Stats{ScannedRowCount: 1},
				ErrorInfo: &model.ErrorInfo{Type: model.ErrorType_ResourceLimitExceeded, Message: "scanned too much"},
			})
			close(failed)
			return nil
		},
		2: func(cb func(rsp *model.VisitResponse)) error {
			cb(rowsResponse(2, "s2-early"))
			<-failed
			cb(rowsResponse(2, "s2-late"))
			close(lateDone)
			return nil
		},
	}

	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	req := makeRequest(false)
	req.CacheKey = "k"
	req.Cache = cache
	req.CacheMaxSize = 1 << 20

	ranges := []model.ShardRange{{Start: 0, End: 0}, {Start: 1, End: 1}, {Start: 2, End: 2}}
	it := NewDispatcher(v).Dispatch(context.Background(), req, ranges)

	var early [][]byte
	for i := 0; i < 2; i++ {
		chunk, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next fail. err=%s", err)
		}
		early = append(early, chunk)
	}
	if got := collectRows(t, early); fmt.Sprint(got) != "[s0 s2-early]" {
		t.Fatalf("early rows=%v", got)
	}

	close(proceed)
	waitClosed(t, lateDone, "late response")

	for i := 0; i < 2; i++ {
		chunk, err := it.Next(context.Background())
		if !errors.Is(err, model.ErrResourceLimitExceeded) {
			t.Fatalf("expect resource limit error, got chunk=%q err=%v", chunk, err)
		}
	}
	// 丢弃的响应仍然记录统计
	if n := len(req.QueryContext.RPCStatistics()); n != 4 {
		t.Fatalf("expect 4 rpc statistics, got %d", n)
	}
	if _, ok := cache.Get(context.Background(), "k"); ok {
		t.Fatalf("failed dispatch should not be cached")
	}
}

func TestDispatch_RequestNotModified(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_None, false)
	fillStore(ms, 2)

	req := makeRequest(false)
	req.QueryContext = nil
	_, err := NewDispatcher(ms).Dispatch(context.Background(), req, planner.ComputeRanges(0, 2, 2)).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect fail. err=%s", err)
	}
	if req.QueryContext != nil {
		t.Fatalf("Dispatch should not set the query context of the caller's request")
	}
}

func TestDispatch_UnCompressTooLarge(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_Lz4, true)
	fillStore(ms, 2)

	req := makeRequest(true)
	req.MaxUnCompressSize = 4
	_, err := NewDispatcher(ms).Dispatch(context.Background(), req, planner.ComputeRanges(0, 2, 2)).Collect(context.Background())
	if !errors.Is(err, compressor.ErrUnCompressTooLarge) {
		t.Fatalf("expect ErrUnCompressTooLarge, got %v", err)
	}
}

func TestDispatch_QueryByteBudget(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_None, false)
	for s := uint16(0); s < 3; s++ {
		ms.PutRows(s, []byte("row"))
		ms.SetShardScannedBytes(s, 100)
	}

	req := makeRequest(false)
	req.MaxScanBytes = 150
	it := NewDispatcher(ms).Dispatch(context.Background(), req, []model.ShardRange{{Start: 0, End: 2}})
	_, err := it.Collect(context.Background())
	if !errors.Is(err, model.ErrResourceLimitExceeded) {
		t.Fatalf("expect resource limit error, got %v", err)
	}
	// 超限后仍然记录统计
	if req.QueryContext.ScannedBytes() != 300 {
		t.Fatalf("expect 300 scanned bytes, got %d", req.QueryContext.ScannedBytes())
	}
}

func TestDispatch_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(ms *storetest.MemStore)
		kind  error
	}{
		{"remote timeout", func(ms *storetest.MemStore) {
			ms.SetShardError(2, &model.ErrorInfo{Type: model.ErrorType_Timeout, Message: "deadline"})
		}, model.ErrTimeout},
		{"abnormal completion", func(ms *storetest.MemStore) {
			ms.SetShardIncomplete(0)
		}, model.ErrCoprocessorFailed},
		{"transport", func(ms *storetest.MemStore) {
			ms.SetTransportError(errors.New("connection reset"))
		}, model.ErrTransport},
		{"protocol drift", func(ms *storetest.MemStore) {
			ms.SetShardError(1, &model.ErrorInfo{Type: model.ErrorType(99)})
		}, model.ErrProtocolDrift},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ms := storetest.NewMemStore(compressor.CompressType_None, false)
			fillStore(ms, 3)
			tc.setup(ms)

			it := NewDispatcher(ms).Dispatch(context.Background(), makeRequest(false), planner.ComputeRanges(0, 3, 3))
			_, err := it.Collect(context.Background())
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expect %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestDispatch_Timeout(t *testing.T) {
	ms := storetest.NewMemStore(compressor.CompressType_None, false)
	fillStore(ms, 2)
	ms.SetDelay(500 * time.Millisecond)

	req := makeRequest(false)
	req.Timeout = 50 * time.Millisecond
	start := time.Now()
	it := NewDispatcher(ms).Dispatch(context.Background(), req, planner.ComputeRanges(0, 2, 2))
	if time.Since(start) > 40*time.Millisecond {
		t.Fatalf("Dispatch should not block the caller")
	}
	_, err := it.Collect(context.Background())
	if !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expect timeout, got %v", err)
	}
}

func TestDispatch_Hooks(t *testing.T) {
	defer handler.Reset()

	var visits, failed atomic.Int32
	handler.AddHandler(handler.AfterShardVisit, func(ctx context.Context, handlerType handler.HandlerType, info *handler.Info) {
		visits.Add(1)
	})
	handler.AddHandler(handler.DispatchFailed, func(ctx context.Context, handlerType handler.HandlerType, info *handler.Info) {
		failed.Add(1)
	})

	ms := storetest.NewMemStore(compressor.CompressType_None, false)
	fillStore(ms, 4)
	ms.SetShardError(0, &model.ErrorInfo{Type: model.ErrorType_Unknown, Message: "a"})
	ms.SetShardError(3, &model.ErrorInfo{Type: model.ErrorType_Unknown, Message: "b"})

	ranges := []model.ShardRange{{Start: 0, End: 1}, {Start: 2, End: 3}}
	_, err := NewDispatcher(ms).Dispatch(context.Background(), makeRequest(false), ranges).Collect(context.Background())
	if !errors.Is(err, model.ErrCoprocessorFailed) {
		t.Fatalf("expect coprocessor failure, got %v", err)
	}

	// 错误对消费者可见时所有任务未必结束, 等待剩余的统计回调
	deadline := time.Now().Add(2 * time.Second)
	for (visits.Load() < 4 || failed.Load() < 1) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if visits.Load() != 4 {
		t.Fatalf("expect 4 shard visit hooks, got %d", visits.Load())
	}
	if failed.Load() != 1 {
		t.Fatalf("expect exactly 1 dispatch failed hook, got %d", failed.Load())
	}
}
