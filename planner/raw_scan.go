package planner

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"

	"github.com/zlyuancn/shardscan/conf"
	"github.com/zlyuancn/shardscan/model"
)

// cuboid id 在行键中占用的字节数
const cuboidIdSize = 8

// 存储端列到表格列的映射, 仅包含选中的列块, 按存储端列的顺序
func ColumnsGTMapping(seg *model.Segment, selectedColBlocks *roaring.Bitmap) [][]int32 {
	ret := make([][]int32, 0, len(seg.Columns))
	for _, c := range seg.Columns {
		if !selectedColBlocks.Contains(uint32(c.ColBlock)) || c.ColBlock >= len(seg.ColBlocks) {
			continue
		}
		cols := seg.ColBlocks[c.ColBlock]
		ints := make([]int32, len(cols))
		for i, col := range cols {
			ints[i] = int32(col)
		}
		ret = append(ret, ints)
	}
	return ret
}

// 选中列块对应的存储端列
func selectedStoreColumns(seg *model.Segment, selectedColBlocks *roaring.Bitmap) []model.StoreColumn {
	ret := make([]model.StoreColumn, 0, len(seg.Columns))
	for _, c := range seg.Columns {
		if !selectedColBlocks.Contains(uint32(c.ColBlock)) {
			continue
		}
		ret = append(ret, model.StoreColumn{Family: []byte(c.Family), Qualifier: []byte(c.Qualifier)})
	}
	return ret
}

// 行键前缀, 分片部分置0, 由存储端按所在分片补齐
func rowKeyPreamble(seg *model.Segment) []byte {
	key := make([]byte, model.ShardKeySize+cuboidIdSize)
	binary.BigEndian.PutUint64(key[model.ShardKeySize:], uint64(seg.CuboidId))
	return key
}

// 编码行键, 列按定长宽度补齐. fill 用于填充未限定的列
func encodeRowKey(seg *model.Segment, rec model.Record, fill byte) []byte {
	key := rowKeyPreamble(seg)
	for i, width := range seg.RowKeyColWidths {
		var col []byte
		if i < len(rec) {
			col = rec[i]
		}
		key = appendFixed(key, col, width, fill)
	}
	return key
}

func appendFixed(dst, col []byte, width int, fill byte) []byte {
	if col == nil {
		for i := 0; i < width; i++ {
			dst = append(dst, fill)
		}
		return dst
	}
	if len(col) >= width {
		return append(dst, col[:width]...)
	}
	dst = append(dst, col...)
	for i := len(col); i < width; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// 模糊行键, 掩码 0 表示固定 1 表示任意. 分片部分和未限定的列为任意
func encodeFuzzyKey(seg *model.Segment, rec model.Record) model.FuzzyKey {
	key := rowKeyPreamble(seg)
	mask := make([]byte, len(key))
	for i := 0; i < model.ShardKeySize; i++ {
		mask[i] = 1
	}
	for i, width := range seg.RowKeyColWidths {
		var col []byte
		if i < len(rec) {
			col = rec[i]
		}
		key = appendFixed(key, col, width, 0)
		var m byte
		if col == nil {
			m = 1
		}
		for j := 0; j < width; j++ {
			mask = append(mask, m)
		}
	}
	return model.FuzzyKey{Key: key, Mask: mask}
}

// 将扫描区间转为原始扫描. 主键列块总是选中
func PrepareRawScans(seg *model.Segment, scanRanges []*model.ScanRange, selectedColBlocks *roaring.Bitmap) []*model.RawScan {
	columns := selectedStoreColumns(seg, selectedColBlocks)
	ret := make([]*model.RawScan, 0, len(scanRanges))
	for _, sr := range scanRanges {
		rs := &model.RawScan{
			StartKey:      encodeRowKey(seg, sr.PkStart, 0x00),
			EndKey:        encodeRowKey(seg, sr.PkEnd, 0xff),
			Columns:       columns,
			Caching:       conf.Conf.RawScanCaching,
			MaxResultSize: conf.Conf.RawScanMaxResultSize,
		}
		for _, f := range sr.FuzzyKeys {
			rs.FuzzyKeys = append(rs.FuzzyKeys, encodeFuzzyKey(seg, f))
		}
		ret = append(ret, rs)
	}

	// 没有区间时扫描整个cuboid
	if len(scanRanges) == 0 {
		ret = append(ret, &model.RawScan{
			StartKey:      encodeRowKey(seg, nil, 0x00),
			EndKey:        encodeRowKey(seg, nil, 0xff),
			Columns:       columns,
			Caching:       conf.Conf.RawScanCaching,
			MaxResultSize: conf.Conf.RawScanMaxResultSize,
		})
	}
	return ret
}
