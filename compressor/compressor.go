package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// 存储端返回结果的压缩类型
type CompressType string

const (
	CompressType_None CompressType = "none"
	CompressType_Lz4  CompressType = "lz4"
	CompressType_Zstd CompressType = "zstd"
)

// 解压结果超过允许的最大尺寸
var ErrUnCompressTooLarge = errors.New("uncompressed data too large")

// 解析压缩类型, 未知类型视为不压缩
func ParseCompressType(s string) CompressType {
	t := CompressType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := compressors[t]; !ok {
		return CompressType_None
	}
	return t
}

type Compressor interface {
	Compress(data []byte) ([]byte, error)
	// 解压, maxSize > 0 时结果超过 maxSize 字节返回 ErrUnCompressTooLarge
	UnCompress(data []byte, maxSize int64) ([]byte, error)
}

var compressors = map[CompressType]Compressor{
	CompressType_None: noneCompressor{},
	CompressType_Lz4:  lz4Compressor{},
	CompressType_Zstd: newZstdCompressor(),
}

func getCompressor(t CompressType) Compressor {
	if c, ok := compressors[t]; ok {
		return c
	}
	return noneCompressor{}
}

// 压缩并立即解压校验, 校验不一致时返回 false
func Compress(t CompressType, data []byte) ([]byte, bool, error) {
	if len(data) == 0 {
		return data, true, nil
	}

	c := getCompressor(t)
	out, err := c.Compress(data)
	if err != nil {
		return nil, false, err
	}
	check, err := c.UnCompress(out, int64(len(data)))
	if err != nil {
		return nil, false, err
	}
	return out, bytes.Equal(data, check), nil
}

// 解压. maxSize <= 0 表示不限制解压后的尺寸
func UnCompress(t CompressType, data []byte, maxSize int64) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return getCompressor(t).UnCompress(data, maxSize)
}

func tooLarge(n, maxSize int64) error {
	return fmt.Errorf("%w: more than %d bytes, got %d", ErrUnCompressTooLarge, maxSize, n)
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCompressor) UnCompress(data []byte, maxSize int64) ([]byte, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, tooLarge(int64(len(data)), maxSize)
	}
	return data, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) UnCompress(data []byte, maxSize int64) ([]byte, error) {
	var r io.Reader = lz4.NewReader(bytes.NewReader(data))
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(out)) > maxSize {
		return nil, tooLarge(int64(len(out)), maxSize)
	}
	return out, nil
}

// EncodeAll/DecodeAll 可以并发调用
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() *zstdCompressor {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return &zstdCompressor{enc: enc, dec: dec}
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCompressor) UnCompress(data []byte, maxSize int64) ([]byte, error) {
	// 帧头带有原始尺寸时先检查, 避免分配过大的内存
	if maxSize > 0 {
		var h zstd.Header
		if h.Decode(data) == nil && h.HasFCS && h.FrameContentSize > uint64(maxSize) {
			return nil, tooLarge(int64(h.FrameContentSize), maxSize)
		}
	}
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(out)) > maxSize {
		return nil, tooLarge(int64(len(out)), maxSize)
	}
	return out, nil
}
