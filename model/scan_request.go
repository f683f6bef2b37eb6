package model

import (
	"github.com/RoaringBitmap/roaring"
)

// 存储端限制等级
type StorageLimitLevel string

const (
	StorageLimitLevel_NoLimit           StorageLimitLevel = "NO_LIMIT"
	StorageLimitLevel_LimitOnScan       StorageLimitLevel = "LIMIT_ON_SCAN"
	StorageLimitLevel_LimitOnReturnSize StorageLimitLevel = "LIMIT_ON_RETURN_SIZE"
)

// 一行记录的列值, nil 表示该列不限定
type Record [][]byte

// 一个主键扫描区间
type ScanRange struct {
	PkStart   Record
	PkEnd     Record
	FuzzyKeys []Record
}

// 扫描计划, 由上游查询规划产生
type ScanRequest struct {
	Info                       []byte // 数据集结构描述, 已序列化
	ScanRanges                 []*ScanRange
	Columns                    *roaring.Bitmap
	FilterPushDown             []byte // 已序列化的过滤表达式
	AggrGroupBy                *roaring.Bitmap
	AggrMetrics                *roaring.Bitmap
	AggrMetricsFuncs           []string
	AllowStorageAggregation    bool
	StorageLimitLevel          StorageLimitLevel
	StorageScanRowNumThreshold int32
	StoragePushDownLimit       int32
	StorageBehavior            string
	TimeoutMs                  int64
	ColBlocks                  *roaring.Bitmap // 需要读取的列块
}

// 浅拷贝, 用于在不修改调用方对象的前提下清理扫描区间或设置超时
func (s *ScanRequest) Clone() *ScanRequest {
	c := *s
	return &c
}

// 选中的列块. 主键(第0个列块)总是被选中
func (s *ScanRequest) SelectedColBlocks() *roaring.Bitmap {
	bm := roaring.New()
	if s.ColBlocks != nil {
		bm = s.ColBlocks.Clone()
	}
	bm.Add(0)
	return bm
}
