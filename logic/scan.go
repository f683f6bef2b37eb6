package logic

import (
	"context"
	"errors"
	"io"

	"github.com/zly-app/zapp/log"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zlyuancn/shardscan/classifier"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/module"
	"github.com/zlyuancn/shardscan/pb"
	"github.com/zlyuancn/shardscan/querycontext"
	"github.com/zlyuancn/shardscan/serializer"
)

type Scan struct{}

func NewServer() pb.ScanServiceServer {
	return &Scan{}
}

func (*Scan) Scan(req *pb.ScanReq, stream pb.ScanService_ScanServer) error {
	ctx := stream.Context()

	scanReq, err := serializer.DeserializeScanRequest(req.ScanRequest)
	if err != nil {
		log.Error(ctx, "Scan call DeserializeScanRequest fail.", zap.Error(err))
		return status.Error(codes.InvalidArgument, err.Error())
	}

	qc := querycontext.New(req.QueryId)
	ctx = querycontext.WithQueryContext(ctx, qc)
	it, err := module.Visit.Scan(ctx, req.Segment, scanReq, &module.ScanOptions{
		QueryId:             req.QueryId,
		IsExactAggregate:    req.IsExactAggregate,
		DisableSegmentCache: req.DisableSegmentCache,
	})
	if err != nil {
		log.Error(ctx, "Scan call module.Visit.Scan fail.", zap.Error(err))
		return toStatusErr(err)
	}

	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error(ctx, "Scan call Next fail.", zap.Bool("retryable", classifier.IsRetryable(err)), zap.Error(err))
			return toStatusErr(err)
		}
		err = stream.Send(&pb.ScanRsp{Chunk: chunk})
		if err != nil {
			log.Error(ctx, "Scan call Send fail.", zap.Error(err))
			return err
		}
	}

	rpcs := qc.RPCStatistics()
	stats := &pb.QueryStats{
		ScannedRows:  qc.ScannedRows(),
		ScannedBytes: qc.ScannedBytes(),
		RpcCount:     len(rpcs),
	}
	for _, rpc := range rpcs {
		if rpc.FromCache {
			stats.CacheHit = true
			break
		}
	}
	return stream.Send(&pb.ScanRsp{Stats: stats})
}

// 错误类型转换为 grpc 状态码
func toStatusErr(err error) error {
	var ve *model.VisitError
	code := codes.Internal
	switch {
	case errors.Is(err, module.ErrInvalidSegment):
		code = codes.InvalidArgument
	case errors.As(err, &ve):
		switch model.ErrKindOf(ve) {
		case model.ErrTimeout:
			code = codes.DeadlineExceeded
		case model.ErrResourceLimitExceeded:
			code = codes.ResourceExhausted
		case model.ErrTransport:
			code = codes.Unavailable
		}
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
