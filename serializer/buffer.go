package serializer

import (
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrBufferOverflow = errors.New("buffer overflow")

// 定长写缓冲区. 空间不足时记录 ErrBufferOverflow, 之后的写入全部忽略, 由调用方扩容后从头重写
type Buffer struct {
	buf   []byte
	limit int
	err   error
}

func NewBuffer(size int) *Buffer {
	return &Buffer{
		buf:   make([]byte, 0, size),
		limit: size,
	}
}

func (b *Buffer) Err() error {
	return b.err
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

func (b *Buffer) Bytes() []byte {
	return b.buf
}

// 检查剩余空间
func (b *Buffer) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if len(b.buf)+n > b.limit {
		b.err = ErrBufferOverflow
		return false
	}
	return true
}

func (b *Buffer) WriteUVInt(v uint64) {
	if b.reserve(protowire.SizeVarint(v)) {
		b.buf = protowire.AppendVarint(b.buf, v)
	}
}

// 有符号数使用 zigzag 编码
func (b *Buffer) WriteVInt(v int64) {
	b.WriteUVInt(protowire.EncodeZigZag(v))
}

// 浮点数按定长8字节小端写入
func (b *Buffer) WriteFloat64(v float64) {
	if b.reserve(8) {
		b.buf = protowire.AppendFixed64(b.buf, math.Float64bits(v))
	}
}

func (b *Buffer) WriteBool(v bool) {
	if !b.reserve(1) {
		return
	}
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

// 写入字节数组, nil 与空数组可区分
func (b *Buffer) WriteBytes(v []byte) {
	if v == nil {
		b.WriteVInt(-1)
		return
	}
	b.WriteVInt(int64(len(v)))
	if b.reserve(len(v)) {
		b.buf = append(b.buf, v...)
	}
}

func (b *Buffer) WriteString(v string) {
	b.WriteVInt(int64(len(v)))
	if b.reserve(len(v)) {
		b.buf = append(b.buf, v...)
	}
}

func (b *Buffer) WriteStringArray(v []string) {
	b.WriteVInt(int64(len(v)))
	for _, s := range v {
		b.WriteString(s)
	}
}

func (b *Buffer) WriteBoolArray(v []bool) {
	b.WriteVInt(int64(len(v)))
	for _, x := range v {
		b.WriteBool(x)
	}
}

func (b *Buffer) WriteInt32Array(v []int32) {
	b.WriteVInt(int64(len(v)))
	for _, x := range v {
		b.WriteVInt(int64(x))
	}
}

// 位图按升序写出全部成员, 相同集合的编码总是相同
func (b *Buffer) WriteBitmap(bm *roaring.Bitmap) {
	if bm == nil {
		b.WriteVInt(-1)
		return
	}
	b.WriteVInt(int64(bm.GetCardinality()))
	it := bm.Iterator()
	for it.HasNext() {
		b.WriteUVInt(uint64(it.Next()))
	}
}
