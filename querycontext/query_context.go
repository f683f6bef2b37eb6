package querycontext

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
)

// 单次分片调用统计
type RPCStatistics struct {
	Segment        string `json:"segment"`
	Shard          uint16 `json:"shard"`
	Hostname       string `json:"hostname"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	ScannedRows    int64  `json:"scanned_rows"`
	ScannedBytes   int64  `json:"scanned_bytes"`
	FilteredRows   int64  `json:"filtered_rows"`
	AggregatedRows int64  `json:"aggregated_rows"`
	ReturnedBytes  int64  `json:"returned_bytes"`
	FromCache      bool   `json:"from_cache,omitempty"`
}

// 分段统计, 随分段结果一起缓存
type SegmentStatistics struct {
	CubeName     string           `json:"cube_name"`
	SegmentName  string           `json:"segment_name"`
	CuboidId     int64            `json:"cuboid_id"`
	ScannedRows  int64            `json:"scanned_rows"`
	ScannedBytes int64            `json:"scanned_bytes"`
	RPCs         []*RPCStatistics `json:"rpcs"`
}

// 一次查询的上下文, 所有分发任务并发累加
type QueryContext struct {
	QueryId string

	scannedRows  atomic.Int64
	scannedBytes atomic.Int64

	mx       sync.Mutex
	rpcStats []*RPCStatistics
}

func New(queryId string) *QueryContext {
	return &QueryContext{QueryId: queryId}
}

func (q *QueryContext) AddAndGetScannedRows(n int64) int64 {
	return q.scannedRows.Add(n)
}

func (q *QueryContext) AddAndGetScannedBytes(n int64) int64 {
	return q.scannedBytes.Add(n)
}

func (q *QueryContext) ScannedRows() int64  { return q.scannedRows.Load() }
func (q *QueryContext) ScannedBytes() int64 { return q.scannedBytes.Load() }

func (q *QueryContext) AddRPCStatistics(s *RPCStatistics) {
	q.mx.Lock()
	q.rpcStats = append(q.rpcStats, s)
	q.mx.Unlock()
}

func (q *QueryContext) RPCStatistics() []*RPCStatistics {
	q.mx.Lock()
	defer q.mx.Unlock()
	ret := make([]*RPCStatistics, len(q.rpcStats))
	copy(ret, q.rpcStats)
	return ret
}

// 导出指定分段的统计
func (q *QueryContext) SegmentStatistics(cubeName, segmentName string, cuboidId int64) *SegmentStatistics {
	ret := &SegmentStatistics{
		CubeName:    cubeName,
		SegmentName: segmentName,
		CuboidId:    cuboidId,
	}
	for _, s := range q.RPCStatistics() {
		if s.Segment != segmentName {
			continue
		}
		ret.RPCs = append(ret.RPCs, s)
		ret.ScannedRows += s.ScannedRows
		ret.ScannedBytes += s.ScannedBytes
	}
	return ret
}

// 序列化分段统计
func MarshalSegmentStatistics(s *SegmentStatistics) ([]byte, error) {
	return sonic.Marshal(s)
}

// 合并缓存中的分段统计, 调用记录标记为来自缓存
func (q *QueryContext) MergeSegmentStatistics(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var s SegmentStatistics
	err := sonic.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	q.scannedRows.Add(s.ScannedRows)
	q.scannedBytes.Add(s.ScannedBytes)
	for _, rpc := range s.RPCs {
		rpc.FromCache = true
		q.AddRPCStatistics(rpc)
	}
	return nil
}

type ctxKey struct{}

func WithQueryContext(ctx context.Context, q *QueryContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, q)
}

// 从 ctx 获取查询上下文, 不存在时返回 nil
func FromContext(ctx context.Context) *QueryContext {
	q, _ := ctx.Value(ctxKey{}).(*QueryContext)
	return q
}
