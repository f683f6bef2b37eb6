package pb

import (
	"context"

	"google.golang.org/grpc"

	"github.com/zlyuancn/shardscan/model"
)

const VisitRangeFullMethod = "/shardscan.VisitService/VisitRange"

// 访问一个分片范围的请求, Request 为序列化后的访问请求. 以 BinaryCodecName 编码传输
type VisitRangeReq struct {
	StartKey []byte
	EndKey   []byte
	Request  []byte
}

// 范围内每个分片一个响应
type VisitRangeRsp struct {
	Responses []*model.VisitResponse
}

// 存储端协处理器服务
type VisitServiceServer interface {
	VisitRange(ctx context.Context, req *VisitRangeReq) (*VisitRangeRsp, error)
}

func RegisterVisitServiceServer(s grpc.ServiceRegistrar, srv VisitServiceServer) {
	s.RegisterService(&visitServiceDesc, srv)
}

func visitRangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VisitRangeReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VisitServiceServer).VisitRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: VisitRangeFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VisitServiceServer).VisitRange(ctx, req.(*VisitRangeReq))
	}
	return interceptor(ctx, in, info, handler)
}

var visitServiceDesc = grpc.ServiceDesc{
	ServiceName: "shardscan.VisitService",
	HandlerType: (*VisitServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "VisitRange",
			Handler:    visitRangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shardscan/visit",
}
