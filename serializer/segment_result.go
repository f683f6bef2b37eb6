package serializer

import (
	"fmt"

	"github.com/zlyuancn/shardscan/model"
)

// 分段结果缓存值编码
func SerializeSegmentQueryResult(initSize int, v *model.SegmentQueryResult) []byte {
	return Serialize(initSize, func(b *Buffer) {
		b.WriteVInt(int64(len(v.RegionResults)))
		for _, bs := range v.RegionResults {
			b.WriteBytes(bs)
		}
		b.WriteBytes(v.SegmentStatistics)
		b.WriteString(v.Compression)
	})
}

func DeserializeSegmentQueryResult(bs []byte) (*model.SegmentQueryResult, error) {
	r := NewReader(bs)
	n := r.readCount()
	v := &model.SegmentQueryResult{
		RegionResults: make([][]byte, 0, n),
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		v.RegionResults = append(v.RegionResults, r.ReadBytes())
	}
	v.SegmentStatistics = r.ReadBytes()
	v.Compression = r.ReadString()
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize segment query result fail: %w", r.Err())
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("deserialize segment query result fail: %d trailing bytes", r.Remaining())
	}
	return v, nil
}
