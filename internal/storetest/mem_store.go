// Package storetest 提供进程内的存储端实现, 供依赖存储访问的包测试使用
package storetest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zlyuancn/shardscan/compressor"
	"github.com/zlyuancn/shardscan/model"
	"github.com/zlyuancn/shardscan/pb"
	"github.com/zlyuancn/shardscan/serializer"
)

// 内存存储, 按分片保存行数据, 可注入分片错误. 同时实现 Visitor 和 pb.VisitServiceServer
type MemStore struct {
	compressType compressor.CompressType
	compress     bool
	hostname     string
	visitCount   atomic.Int64

	mx           sync.RWMutex
	rows         map[uint16][][]byte
	errs         map[uint16]*model.ErrorInfo
	incomplete   map[uint16]bool
	scannedBytes map[uint16]int64
	delay        time.Duration
	transportErr error
}

func NewMemStore(compressType compressor.CompressType, compress bool) *MemStore {
	hostname, _ := os.Hostname()
	return &MemStore{
		compressType: compressType,
		compress:     compress,
		hostname:     hostname,
		rows:         make(map[uint16][][]byte),
		errs:         make(map[uint16]*model.ErrorInfo),
		incomplete:   make(map[uint16]bool),
		scannedBytes: make(map[uint16]int64),
	}
}

func (m *MemStore) PutRows(shard uint16, rows ...[]byte) {
	m.mx.Lock()
	m.rows[shard] = append(m.rows[shard], rows...)
	m.mx.Unlock()
}

// 分片响应携带错误信息
func (m *MemStore) SetShardError(shard uint16, info *model.ErrorInfo) {
	m.mx.Lock()
	m.errs[shard] = info
	m.mx.Unlock()
}

// 分片响应未正常完成且无错误信息
func (m *MemStore) SetShardIncomplete(shard uint16) {
	m.mx.Lock()
	m.incomplete[shard] = true
	m.mx.Unlock()
}

// 覆盖分片上报的扫描字节数
func (m *MemStore) SetShardScannedBytes(shard uint16, n int64) {
	m.mx.Lock()
	m.scannedBytes[shard] = n
	m.mx.Unlock()
}

// 每次范围访问的延迟
func (m *MemStore) SetDelay(d time.Duration) {
	m.mx.Lock()
	m.delay = d
	m.mx.Unlock()
}

// 所有范围访问返回传输错误, nil 表示恢复
func (m *MemStore) SetTransportError(err error) {
	m.mx.Lock()
	m.transportErr = err
	m.mx.Unlock()
}

// 范围访问次数
func (m *MemStore) VisitCount() int64 {
	return m.visitCount.Load()
}

func (m *MemStore) VisitRange(ctx context.Context, req *pb.VisitRangeReq) (*pb.VisitRangeRsp, error) {
	m.visitCount.Add(1)

	m.mx.RLock()
	delay, transportErr := m.delay, m.transportErr
	m.mx.RUnlock()

	if transportErr != nil {
		return nil, status.Error(codes.Unavailable, transportErr.Error())
	}

	visitReq, err := serializer.DeserializeVisitRequest(req.Request)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start, ok1 := model.ParseShardKey(req.StartKey)
	end, ok2 := model.ParseShardKey(req.EndKey)
	if !ok1 || !ok2 || start > end {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid shard range start=%x end=%x", req.StartKey, req.EndKey))
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		case <-time.After(delay):
		}
	}

	rsp := &pb.VisitRangeRsp{Responses: make([]*model.VisitResponse, 0, int(end)-int(start)+1)}
	for shard := int(start); shard <= int(end); shard++ {
		rsp.Responses = append(rsp.Responses, m.visitShard(uint16(shard), visitReq))
	}
	return rsp, nil
}

func (m *MemStore) visitShard(shard uint16, req *model.VisitRequest) *model.VisitResponse {
	startTime := time.Now().UnixMilli()

	m.mx.RLock()
	rows := m.rows[shard]
	errInfo := m.errs[shard]
	incomplete := m.incomplete[shard]
	scannedBytes, overrideBytes := m.scannedBytes[shard]
	m.mx.RUnlock()

	if !overrideBytes {
		for _, row := range rows {
			scannedBytes += int64(len(row))
		}
	}

	rsp := &model.VisitResponse{
		Shard: shard,
		Stats: model.Stats{
			ScannedRowCount:  int64(len(rows)),
			ScannedBytes:     scannedBytes,
			ServiceStartTime: startTime,
			Hostname:         m.hostname,
			NormalComplete:   model.NormalComplete,
			EtcMsg:           req.QueryId,
		},
	}
	defer func() {
		rsp.Stats.ServiceEndTime = time.Now().UnixMilli()
	}()

	switch {
	case errInfo != nil:
		rsp.ErrorInfo = errInfo
		rsp.Stats.NormalComplete = 0
		return rsp
	case incomplete:
		rsp.Stats.NormalComplete = 0
		return rsp
	case req.MaxScanBytes > 0 && scannedBytes > req.MaxScanBytes:
		rsp.ErrorInfo = &model.ErrorInfo{
			Type:    model.ErrorType_ResourceLimitExceeded,
			Message: fmt.Sprintf("scanned bytes %d exceeds partition limit %d", scannedBytes, req.MaxScanBytes),
		}
		rsp.Stats.NormalComplete = 0
		return rsp
	}

	payload := serializer.SerializeRows(serializer.DefBufferSize, rows)
	if m.compress {
		data, ok, err := compressor.Compress(m.compressType, payload)
		if err != nil || !ok {
			rsp.ErrorInfo = &model.ErrorInfo{Type: model.ErrorType_Unknown, Message: fmt.Sprintf("compress result fail. err=%v", err)}
			rsp.Stats.NormalComplete = 0
			return rsp
		}
		payload = data
	}
	rsp.CompressedRows = payload
	rsp.Stats.AggregatedRowCount = int64(len(rows))
	return rsp
}

func (m *MemStore) Visit(ctx context.Context, startKey, endKey []byte, req []byte, cb func(rsp *model.VisitResponse)) error {
	out, err := m.VisitRange(ctx, &pb.VisitRangeReq{StartKey: startKey, EndKey: endKey, Request: req})
	if err != nil {
		return err
	}
	for _, rsp := range out.Responses {
		cb(rsp)
	}
	return nil
}
