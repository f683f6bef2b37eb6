package pb

import (
	"github.com/bytedance/sonic"
	"google.golang.org/grpc/encoding"
)

// 对外扫描服务的 grpc 内容子类型, 调用方通过 grpc.CallContentSubtype(CodecName) 选择该编解码器
const CodecName = "sonic"

type sonicCodec struct{}

func (sonicCodec) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (sonicCodec) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func (sonicCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(sonicCodec{})
}
