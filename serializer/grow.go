package serializer

import (
	"math"

	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"
)

// 默认初始缓冲区大小
const DefBufferSize = 65536

// 使用初始大小的缓冲区序列化, 空间不足时扩大为4倍后从头重新序列化直到成功
func Serialize(initSize int, fn func(b *Buffer)) []byte {
	size := max(initSize, 1)
	for {
		b := NewBuffer(size)
		fn(b)
		if b.Err() == nil {
			return b.Bytes()
		}

		log.Info("Buffer size cannot hold the value, resizing to 4 times", zap.Int("size", size))
		if size > math.MaxInt/4 {
			size = math.MaxInt
		} else {
			size *= 4
		}
	}
}
