package serializer

import (
	"fmt"

	"github.com/zlyuancn/shardscan/model"
)

func writeRawScan(b *Buffer, rs *model.RawScan) {
	b.WriteBytes(rs.StartKey)
	b.WriteBytes(rs.EndKey)
	b.WriteVInt(int64(len(rs.Columns)))
	for _, c := range rs.Columns {
		b.WriteBytes(c.Family)
		b.WriteBytes(c.Qualifier)
	}
	b.WriteVInt(int64(len(rs.FuzzyKeys)))
	for _, f := range rs.FuzzyKeys {
		b.WriteBytes(f.Key)
		b.WriteBytes(f.Mask)
	}
	b.WriteVInt(int64(rs.Caching))
	b.WriteVInt(rs.MaxResultSize)
}

func readRawScan(r *Reader) *model.RawScan {
	rs := &model.RawScan{
		StartKey: r.ReadBytes(),
		EndKey:   r.ReadBytes(),
	}
	if n := r.readCount(); n > 0 {
		rs.Columns = make([]model.StoreColumn, n)
		for i := range rs.Columns {
			rs.Columns[i].Family = r.ReadBytes()
			rs.Columns[i].Qualifier = r.ReadBytes()
		}
	}
	if n := r.readCount(); n > 0 {
		rs.FuzzyKeys = make([]model.FuzzyKey, n)
		for i := range rs.FuzzyKeys {
			rs.FuzzyKeys[i].Key = r.ReadBytes()
			rs.FuzzyKeys[i].Mask = r.ReadBytes()
		}
	}
	rs.Caching = int32(r.ReadVInt())
	rs.MaxResultSize = r.ReadVInt()
	return rs
}

// 序列化原始扫描列表, 先写数量再逐个写入, 顺序保持不变
func SerializeRawScans(initSize int, rawScans []*model.RawScan) []byte {
	return Serialize(initSize, func(b *Buffer) {
		b.WriteVInt(int64(len(rawScans)))
		for _, rs := range rawScans {
			writeRawScan(b, rs)
		}
	})
}

func DeserializeRawScans(bs []byte) ([]*model.RawScan, error) {
	r := NewReader(bs)
	n := r.readCount()
	ret := make([]*model.RawScan, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		ret = append(ret, readRawScan(r))
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize raw scans fail: %w", r.Err())
	}
	return ret, nil
}
