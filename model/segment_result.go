package model

import (
	"sync"
)

// 分段查询结果缓存值, 存入后不可变
type SegmentQueryResult struct {
	RegionResults     [][]byte // 每个分片的压缩结果
	SegmentStatistics []byte   // 分段统计, 可能为空
	Compression       string   // 写入时分片结果的压缩类型, 为空表示未压缩
}

// 结果尺寸
func (r *SegmentQueryResult) Size() int {
	n := len(r.SegmentStatistics)
	for _, b := range r.RegionResults {
		n += len(b)
	}
	return n
}

// 分段结果构建器, 多个分发任务并发写入
type SegmentQueryResultBuilder struct {
	regionsNum int
	maxSize    int
	mx         sync.Mutex
	results    [][]byte
	totalSize  int
	overflow   bool
	statsBytes []byte
	statsIsSet bool

	compression string
}

func NewSegmentQueryResultBuilder(regionsNum, maxSize int) *SegmentQueryResultBuilder {
	return &SegmentQueryResultBuilder{
		regionsNum: regionsNum,
		maxSize:    maxSize,
		results:    make([][]byte, 0, regionsNum),
	}
}

// 写入一个分片结果, 累计尺寸超过上限后不再保留任何结果. 返回是否仍可缓存
func (b *SegmentQueryResultBuilder) PutRegionResult(result []byte) bool {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.totalSize += len(result)
	if b.overflow || b.totalSize > b.maxSize {
		b.overflow = true
		b.results = nil
		return false
	}
	b.results = append(b.results, result)
	return true
}

func (b *SegmentQueryResultBuilder) SetSegmentStatistics(stats []byte) {
	b.mx.Lock()
	b.statsBytes = stats
	b.statsIsSet = true
	b.mx.Unlock()
}

func (b *SegmentQueryResultBuilder) SetCompression(compression string) {
	b.mx.Lock()
	b.compression = compression
	b.mx.Unlock()
}

// 所有分片结果和统计都已写入且未超限
func (b *SegmentQueryResultBuilder) IsComplete() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return !b.overflow && b.statsIsSet && len(b.results) == b.regionsNum
}

func (b *SegmentQueryResultBuilder) Build() *SegmentQueryResult {
	b.mx.Lock()
	defer b.mx.Unlock()
	results := make([][]byte, len(b.results))
	copy(results, b.results)
	return &SegmentQueryResult{
		RegionResults:     results,
		SegmentStatistics: b.statsBytes,
		Compression:       b.compression,
	}
}
