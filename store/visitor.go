package store

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/pb"
)

// 远程存储访问者.
//
// Visit 在 [startKey, endKey] 覆盖的每个分片上执行一次访问, 每个分片的响应调用一次 cb.
// 返回错误表示传输失败.
type Visitor interface {
	Visit(ctx context.Context, startKey, endKey []byte, req []byte, cb func(rsp *model.VisitResponse)) error
}

type grpcVisitor struct {
	conn grpc.ClientConnInterface
}

func NewGrpcVisitor(conn grpc.ClientConnInterface) Visitor {
	return &grpcVisitor{conn: conn}
}

func (v *grpcVisitor) Visit(ctx context.Context, startKey, endKey []byte, req []byte, cb func(rsp *model.VisitResponse)) error {
	in := &pb.VisitRangeReq{
		StartKey: startKey,
		EndKey:   endKey,
		Request:  req,
	}
	out := new(pb.VisitRangeRsp)
	err := v.conn.Invoke(ctx, pb.VisitRangeFullMethod, in, out, grpc.CallContentSubtype(pb.BinaryCodecName))
	if err != nil {
		return fmt.Errorf("invoke %s fail: %w", pb.VisitRangeFullMethod, err)
	}
	for _, rsp := range out.Responses {
		if rsp == nil {
			continue
		}
		cb(rsp)
	}
	return nil
}
