package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/zlyuancn/shardscan/compressor"
	"github.com/zlyuancn/shardscan/conf"
	"github.com/zlyuancn/shardscan/internal/storetest"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/querycontext"
	"github.com/zlyuancn/shardscan/segment_cache"
	"github.com/zlyuancn/shardscan/serializer"
	"github.com/zlyuancn/shardscan/store"
)

// 记录每次访问请求
type recordVisitor struct {
	store.Visitor
	mx   sync.Mutex
	reqs [][]byte
}

func (r *recordVisitor) Visit(ctx context.Context, startKey, endKey []byte, req []byte, cb func(rsp *model.VisitResponse)) error {
	r.mx.Lock()
	r.reqs = append(r.reqs, req)
	r.mx.Unlock()
	return r.Visitor.Visit(ctx, startKey, endKey, req, cb)
}

func setupConf(t *testing.T) {
	old := conf.Conf
	t.Cleanup(func() { conf.Conf = old })

	conf.Conf.SegmentCacheEnabled = true
	conf.Conf.CompressionResult = true
	conf.Conf.CompressType = "lz4"
	conf.Conf.CoprocessorTimeoutMs = 1000
	conf.Conf.QueryTimeoutRatio = 3
	conf.Conf.SerializeBufferSize = 16
	conf.Conf.StoreProperties = map[string]any{"kylin.storage.hbase.scan-cache-rows": 1024}
}

func makeSegment() *model.Segment {
	return &model.Segment{
		CubeName:           "sales",
		Name:               "seg1",
		Uuid:               "uuid1",
		StorageLocation:    "SHARDSCAN_SALES",
		CuboidId:           255,
		BaseShard:          2,
		ShardNum:           3,
		TotalShards:        4,
		RowKeyPreambleSize: 10,
		ColBlocks:          [][]int{{0, 1}, {2}},
		Columns:            []model.SegmentColumn{{Family: "F1", Qualifier: "M", ColBlock: 1}},
		RowKeyColWidths:    []int{4, 2},
	}
}

func makeScanRequest() *model.ScanRequest {
	return &model.ScanRequest{
		Info: []byte("info"),
		ScanRanges: []*model.ScanRange{
			{PkStart: model.Record{[]byte("2026"), nil}, PkEnd: model.Record{[]byte("2027"), nil}},
			{PkStart: model.Record{[]byte("2030"), nil}, PkEnd: model.Record{[]byte("2031"), nil}},
		},
		Columns:   roaring.BitmapOf(0, 1, 2),
		ColBlocks: roaring.BitmapOf(1),
		TimeoutMs: 99,
	}
}

func newStore() *storetest.MemStore {
	ms := storetest.NewMemStore(compressor.CompressType_Lz4, true)
	for s := uint16(0); s < 4; s++ {
		ms.PutRows(s, []byte(fmt.Sprintf("row-%d", s)))
	}
	return ms
}

func scanRows(t *testing.T, v *visitCli, seg *model.Segment, req *model.ScanRequest, opts *ScanOptions) []string {
	it, err := v.Scan(context.Background(), seg, req, opts)
	if err != nil {
		t.Fatalf("Scan fail. err=%s", err)
	}
	chunks, err := it.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect fail. err=%s", err)
	}
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

func TestScan_CacheMissThenHit(t *testing.T) {
	setupConf(t)
	ms := newStore()
	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	v := NewVisit(ms, cache)

	want := "[row-0 row-2 row-3]"
	got := scanRows(t, v, makeSegment(), makeScanRequest(), nil)
	if fmt.Sprint(got) != want {
		t.Fatalf("rows=%v want %s", got, want)
	}
	visits := ms.VisitCount()
	if visits != 2 {
		t.Fatalf("expect 2 range visits, got %d", visits)
	}

	qc := querycontext.New("q2")
	got = scanRows(t, v, makeSegment(), makeScanRequest(), &ScanOptions{QueryContext: qc})
	if fmt.Sprint(got) != want {
		t.Fatalf("cached rows=%v want %s", got, want)
	}
	if ms.VisitCount() != visits {
		t.Fatalf("cache hit should not visit the store")
	}
	if qc.ScannedRows() != 3 {
		t.Fatalf("cached statistics should be merged, scanned rows=%d", qc.ScannedRows())
	}

	// 超时不参与指纹
	req := makeScanRequest()
	req.TimeoutMs = 12345
	scanRows(t, v, makeSegment(), req, nil)
	if ms.VisitCount() != visits {
		t.Fatalf("timeout change should still hit the cache")
	}

	// 不同的扫描计划不命中
	req = makeScanRequest()
	req.StoragePushDownLimit = 10
	scanRows(t, v, makeSegment(), req, nil)
	if ms.VisitCount() != visits+2 {
		t.Fatalf("different scan request should miss the cache")
	}
}

func TestScan_CacheHitAfterCompressionChange(t *testing.T) {
	setupConf(t)
	ms := newStore()
	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	v := NewVisit(ms, cache)

	want := "[row-0 row-2 row-3]"
	scanRows(t, v, makeSegment(), makeScanRequest(), nil)

	// 缓存值按写入时的 lz4 解压
	conf.Conf.CompressionResult = false
	got := scanRows(t, v, makeSegment(), makeScanRequest(), nil)
	if fmt.Sprint(got) != want {
		t.Fatalf("rows=%v want %s", got, want)
	}

	conf.Conf.CompressionResult = true
	conf.Conf.CompressType = "zstd"
	got = scanRows(t, v, makeSegment(), makeScanRequest(), nil)
	if fmt.Sprint(got) != want {
		t.Fatalf("rows=%v want %s", got, want)
	}
	if ms.VisitCount() != 2 {
		t.Fatalf("later scans should hit the cache, got %d visits", ms.VisitCount())
	}
}

func TestScan_QueryContextFromCtx(t *testing.T) {
	setupConf(t)
	v := NewVisit(newStore(), nil)

	qc := querycontext.New("q-ctx")
	it, err := v.Scan(querycontext.WithQueryContext(context.Background(), qc), makeSegment(), makeScanRequest(), nil)
	if err != nil {
		t.Fatalf("Scan fail. err=%s", err)
	}
	if _, err = it.Collect(context.Background()); err != nil {
		t.Fatalf("Collect fail. err=%s", err)
	}
	if qc.ScannedRows() != 3 {
		t.Fatalf("query context from ctx should collect statistics, scanned rows=%d", qc.ScannedRows())
	}
}

func TestScan_CacheDisabled(t *testing.T) {
	setupConf(t)
	ms := newStore()
	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	v := NewVisit(ms, cache)

	scanRows(t, v, makeSegment(), makeScanRequest(), &ScanOptions{DisableSegmentCache: true})
	scanRows(t, v, makeSegment(), makeScanRequest(), &ScanOptions{DisableSegmentCache: true})
	if ms.VisitCount() != 4 {
		t.Fatalf("disabled cache should always visit, got %d visits", ms.VisitCount())
	}

	conf.Conf.SegmentCacheEnabled = false
	scanRows(t, v, makeSegment(), makeScanRequest(), nil)
	scanRows(t, v, makeSegment(), makeScanRequest(), nil)
	if ms.VisitCount() != 8 {
		t.Fatalf("disabled cache should always visit, got %d visits", ms.VisitCount())
	}

	scanRows(t, NewVisit(ms, nil), makeSegment(), makeScanRequest(), nil)
	if ms.VisitCount() != 10 {
		t.Fatalf("nil cache should always visit, got %d visits", ms.VisitCount())
	}
}

func TestScan_VisitRequest(t *testing.T) {
	setupConf(t)
	rv := &recordVisitor{Visitor: newStore()}
	v := NewVisit(rv, nil)

	scanReq := makeScanRequest()
	scanRows(t, v, makeSegment(), scanReq, &ScanOptions{QueryId: "query-1", IsExactAggregate: true})

	if len(rv.reqs) != 2 {
		t.Fatalf("expect 2 visits, got %d", len(rv.reqs))
	}
	if string(rv.reqs[0]) != string(rv.reqs[1]) {
		t.Fatalf("all ranges should share the same serialized request")
	}

	visitReq, err := serializer.DeserializeVisitRequest(rv.reqs[0])
	if err != nil {
		t.Fatalf("DeserializeVisitRequest fail. err=%s", err)
	}
	if visitReq.QueryId != "query-1" || !visitReq.IsExactAggregate || visitReq.RowKeyPreambleSize != 10 {
		t.Fatalf("unexpected visit request %+v", visitReq)
	}
	if visitReq.MaxScanBytes != conf.Conf.PartitionMaxScanBytes {
		t.Fatalf("unexpected partition max scan bytes %d", visitReq.MaxScanBytes)
	}
	if visitReq.Properties != `{"kylin.storage.hbase.scan-cache-rows":"1024"}` {
		t.Fatalf("unexpected properties %s", visitReq.Properties)
	}

	toStore, err := serializer.DeserializeScanRequest(visitReq.ScanRequest)
	if err != nil {
		t.Fatalf("DeserializeScanRequest fail. err=%s", err)
	}
	if len(toStore.ScanRanges) != 0 {
		t.Fatalf("scan ranges should be cleared, got %d", len(toStore.ScanRanges))
	}
	if toStore.TimeoutMs != conf.Conf.CoprocessorTimeoutMs {
		t.Fatalf("timeout should be the coprocessor timeout, got %d", toStore.TimeoutMs)
	}
	if scanReq.TimeoutMs != 99 || len(scanReq.ScanRanges) != 2 {
		t.Fatalf("caller scan request should not be modified")
	}

	rawScans, err := serializer.DeserializeRawScans(visitReq.RawScan)
	if err != nil {
		t.Fatalf("DeserializeRawScans fail. err=%s", err)
	}
	if len(rawScans) != 2 {
		t.Fatalf("expect 2 raw scans, got %d", len(rawScans))
	}
}

func TestScan_InvalidSegment(t *testing.T) {
	setupConf(t)
	v := NewVisit(newStore(), nil)

	testCases := []func(seg *model.Segment){
		func(seg *model.Segment) { seg.TotalShards = 0 },
		func(seg *model.Segment) { seg.BaseShard = 4 },
		func(seg *model.Segment) { seg.ShardNum = 5 },
	}
	for i, fn := range testCases {
		seg := makeSegment()
		fn(seg)
		_, err := v.Scan(context.Background(), seg, makeScanRequest(), nil)
		if !errors.Is(err, ErrInvalidSegment) {
			t.Fatalf("case %d expect ErrInvalidSegment, got %v", i, err)
		}
	}
	if _, err := v.Scan(context.Background(), nil, makeScanRequest(), nil); !errors.Is(err, ErrInvalidSegment) {
		t.Fatalf("nil segment expect ErrInvalidSegment, got %v", err)
	}
}

func TestScan_ErrorSurfaces(t *testing.T) {
	setupConf(t)
	ms := newStore()
	ms.SetShardError(3, &model.ErrorInfo{Type: model.ErrorType_Timeout, Message: "slow region"})
	cache := segment_cache.New(segment_cache.Options{LruCount: 10, Ttl: time.Minute, MaxSize: 1 << 20})
	v := NewVisit(ms, cache)

	it, err := v.Scan(context.Background(), makeSegment(), makeScanRequest(), nil)
	if err != nil {
		t.Fatalf("Scan fail. err=%s", err)
	}
	_, err = it.Collect(context.Background())
	if !errors.Is(err, model.ErrTimeout) {
		t.Fatalf("expect timeout error, got %v", err)
	}
	if cache.Stats().Puts != 0 {
		t.Fatalf("failed scan should not be cached")
	}
}

func TestCacheKey_GetSegmentQuery(t *testing.T) {
	seg := makeSegment()
	fp := serializer.ScanRequestFingerprint(serializer.DefBufferSize, makeScanRequest(), false)
	key := CacheKey.GetSegmentQuery(seg, fp)
	if key != "sales_uuid1_"+fp {
		t.Fatalf("unexpected cache key %q", key)
	}

	other := *seg
	other.Uuid = "uuid2"
	if CacheKey.GetSegmentQuery(&other, fp) == key {
		t.Fatalf("cache key should differ between segments")
	}
}
