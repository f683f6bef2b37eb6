package serializer

import (
	"fmt"
)

// 序列化一个分片返回的行, 作为存储端响应的未压缩结果
func SerializeRows(initSize int, rows [][]byte) []byte {
	return Serialize(initSize, func(b *Buffer) {
		b.WriteVInt(int64(len(rows)))
		for _, row := range rows {
			b.WriteBytes(row)
		}
	})
}

func DeserializeRows(bs []byte) ([][]byte, error) {
	r := NewReader(bs)
	n := r.readCount()
	ret := make([][]byte, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		ret = append(ret, r.ReadBytes())
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize rows fail: %w", r.Err())
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("deserialize rows fail: %d trailing bytes", r.Remaining())
	}
	return ret, nil
}
