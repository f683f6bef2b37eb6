package model

import (
	"fmt"
)

// 存储端列与列块的对应
type SegmentColumn struct {
	Family    string
	Qualifier string
	ColBlock  int
}

// 分段元数据, 只读
type Segment struct {
	CubeName           string
	Name               string
	Uuid               string
	StorageLocation    string // 存储端表名
	CuboidId           int64
	BaseShard          uint16
	ShardNum           uint16
	TotalShards        uint16
	RowKeyPreambleSize int32   // 行键前缀长度, 分片id + cuboid id
	ColBlocks          [][]int // 每个列块包含的列
	Columns            []SegmentColumn
	RowKeyColWidths    []int // 行键每一列的定长宽度
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s[%s]", s.Name, s.Uuid)
}
