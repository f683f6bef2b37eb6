package serializer

import (
	"errors"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidLength = errors.New("invalid length")

// 与 Buffer 对应的读取器, 出错后记录第一个错误, 之后的读取返回零值
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Err() error {
	return r.err
}

// 未读取的字节数
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadUVInt() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.buf[r.pos:])
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.pos += n
	return v
}

func (r *Reader) ReadVInt() int64 {
	return protowire.DecodeZigZag(r.ReadUVInt())
}

func (r *Reader) ReadFloat64() float64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.buf[r.pos:])
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.pos += n
	return math.Float64frombits(v)
}

func (r *Reader) ReadBool() bool {
	if r.err != nil {
		return false
	}
	if r.Remaining() < 1 {
		r.fail(io.ErrUnexpectedEOF)
		return false
	}
	v := r.buf[r.pos]
	r.pos++
	return v != 0
}

// 读取长度, 检查剩余字节是否足够
func (r *Reader) readLen() (int, bool) {
	n := r.ReadVInt()
	if r.err != nil {
		return 0, false
	}
	if n < -1 {
		r.fail(ErrInvalidLength)
		return 0, false
	}
	if n > int64(r.Remaining()) {
		r.fail(io.ErrUnexpectedEOF)
		return 0, false
	}
	return int(n), true
}

// 读取数组长度, 每个元素至少占用1字节
func (r *Reader) readCount() int {
	n, ok := r.readLen()
	if !ok || n < 0 {
		if ok {
			r.fail(ErrInvalidLength)
		}
		return 0
	}
	return n
}

func (r *Reader) ReadBytes() []byte {
	n, ok := r.readLen()
	if !ok || n < 0 {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v
}

func (r *Reader) ReadString() string {
	n, ok := r.readLen()
	if !ok {
		return ""
	}
	if n < 0 {
		r.fail(ErrInvalidLength)
		return ""
	}
	v := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return v
}

func (r *Reader) ReadStringArray() []string {
	n := r.readCount()
	if n == 0 {
		return nil
	}
	v := make([]string, n)
	for i := range v {
		v[i] = r.ReadString()
	}
	return v
}

func (r *Reader) ReadBoolArray() []bool {
	n := r.readCount()
	if n == 0 {
		return nil
	}
	v := make([]bool, n)
	for i := range v {
		v[i] = r.ReadBool()
	}
	return v
}

func (r *Reader) ReadInt32Array() []int32 {
	n := r.readCount()
	if n == 0 {
		return nil
	}
	v := make([]int32, n)
	for i := range v {
		v[i] = int32(r.ReadVInt())
	}
	return v
}

func (r *Reader) ReadBitmap() *roaring.Bitmap {
	n, ok := r.readLen()
	if !ok || n < 0 {
		return nil
	}
	bm := roaring.New()
	for i := 0; i < n; i++ {
		bm.Add(uint32(r.ReadUVInt()))
	}
	if r.err != nil {
		return nil
	}
	return bm
}
