package pb

import (
	"context"

	"google.golang.org/grpc"

	"github.com/zlyuancn/shardscan/model"
)

const ScanFullMethod = "/shardscan.ScanService/Scan"

type ScanReq struct {
	QueryId             string         `json:"query_id"`
	Segment             *model.Segment `json:"segment"`
	ScanRequest         []byte         `json:"scan_request"` // 序列化后的扫描计划
	IsExactAggregate    bool           `json:"is_exact_aggregate"`
	DisableSegmentCache bool           `json:"disable_segment_cache"`
}

type QueryStats struct {
	ScannedRows  int64 `json:"scanned_rows"`
	ScannedBytes int64 `json:"scanned_bytes"`
	RpcCount     int   `json:"rpc_count"`
	CacheHit     bool  `json:"cache_hit"`
}

// 结果流消息, 最后一条消息只携带统计
type ScanRsp struct {
	Chunk []byte      `json:"chunk,omitempty"`
	Stats *QueryStats `json:"stats,omitempty"`
}

type ScanServiceServer interface {
	Scan(req *ScanReq, stream ScanService_ScanServer) error
}

type ScanService_ScanServer interface {
	Send(*ScanRsp) error
	grpc.ServerStream
}

type scanServiceScanServer struct {
	grpc.ServerStream
}

func (x *scanServiceScanServer) Send(m *ScanRsp) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterScanServiceServer(s grpc.ServiceRegistrar, srv ScanServiceServer) {
	s.RegisterService(&scanServiceDesc, srv)
}

func scanHandler(srv any, stream grpc.ServerStream) error {
	m := new(ScanReq)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ScanServiceServer).Scan(m, &scanServiceScanServer{stream})
}

var scanServiceDesc = grpc.ServiceDesc{
	ServiceName: "shardscan.ScanService",
	HandlerType: (*ScanServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Scan",
			Handler:       scanHandler,
			ServerStreams: true,
		},
	},
	Metadata: "shardscan/scan",
}

type ScanServiceClient interface {
	Scan(ctx context.Context, in *ScanReq, opts ...grpc.CallOption) (ScanService_ScanClient, error)
}

type ScanService_ScanClient interface {
	Recv() (*ScanRsp, error)
	grpc.ClientStream
}

type scanServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewScanServiceClient(cc grpc.ClientConnInterface) ScanServiceClient {
	return &scanServiceClient{cc: cc}
}

func (c *scanServiceClient) Scan(ctx context.Context, in *ScanReq, opts ...grpc.CallOption) (ScanService_ScanClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &scanServiceDesc.Streams[0], ScanFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &scanServiceScanClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type scanServiceScanClient struct {
	grpc.ClientStream
}

func (x *scanServiceScanClient) Recv() (*ScanRsp, error) {
	m := new(ScanRsp)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
