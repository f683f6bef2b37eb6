package model

import (
	"encoding/binary"
	"fmt"
)

// 分片id在存储端行键前缀中占用的字节数
const ShardKeySize = 2

// 分片范围, 闭区间. 跨越环尾的范围总是拆成两个, 不会出现 Start > End
type ShardRange struct {
	Start uint16
	End   uint16
}

// 分片数
func (r ShardRange) Len() int {
	return int(r.End) - int(r.Start) + 1
}

// 范围起始行键
func (r ShardRange) StartKey() []byte {
	return ShardKey(r.Start)
}

// 范围结束行键, 存储端协处理器的结束键是闭区间, 不需要追加任何字节
func (r ShardRange) EndKey() []byte {
	return ShardKey(r.End)
}

func (r ShardRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// 分片id编码为无符号大端字节
func ShardKey(shard uint16) []byte {
	b := make([]byte, ShardKeySize)
	binary.BigEndian.PutUint16(b, shard)
	return b
}

// 从行键前缀解析分片id
func ParseShardKey(key []byte) (uint16, bool) {
	if len(key) < ShardKeySize {
		return 0, false
	}
	return binary.BigEndian.Uint16(key), true
}
