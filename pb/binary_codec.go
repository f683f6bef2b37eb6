package pb

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/zlyuancn/shardscan/serializer"
)

// 存储端访问使用的二进制编解码器, 只支持 VisitRangeReq 和 VisitRangeRsp
const BinaryCodecName = "shardscan-binary"

type binaryCodec struct{}

func (binaryCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *VisitRangeReq:
		return serializer.Serialize(serializer.DefBufferSize, func(b *serializer.Buffer) {
			b.WriteBytes(m.StartKey)
			b.WriteBytes(m.EndKey)
			b.WriteBytes(m.Request)
		}), nil
	case *VisitRangeRsp:
		return serializer.SerializeVisitResponses(serializer.DefBufferSize, m.Responses), nil
	}
	return nil, fmt.Errorf("binary codec: unsupported message type %T", v)
}

func (binaryCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *VisitRangeReq:
		r := serializer.NewReader(data)
		m.StartKey = r.ReadBytes()
		m.EndKey = r.ReadBytes()
		m.Request = r.ReadBytes()
		if r.Err() != nil {
			return fmt.Errorf("binary codec: unmarshal visit range req fail: %w", r.Err())
		}
		if r.Remaining() != 0 {
			return fmt.Errorf("binary codec: unmarshal visit range req fail: %d trailing bytes", r.Remaining())
		}
		return nil
	case *VisitRangeRsp:
		rsps, err := serializer.DeserializeVisitResponses(data)
		if err != nil {
			return fmt.Errorf("binary codec: %w", err)
		}
		m.Responses = rsps
		return nil
	}
	return fmt.Errorf("binary codec: unsupported message type %T", v)
}

func (binaryCodec) Name() string {
	return BinaryCodecName
}

func init() {
	encoding.RegisterCodec(binaryCodec{})
}
