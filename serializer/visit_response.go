package serializer

import (
	"fmt"

	"github.com/zlyuancn/shardscan/model"
)

func WriteVisitResponse(b *Buffer, rsp *model.VisitResponse) {
	b.WriteUVInt(uint64(rsp.Shard))
	b.WriteBytes(rsp.CompressedRows)

	s := &rsp.Stats
	b.WriteVInt(s.ScannedRowCount)
	b.WriteVInt(s.ScannedBytes)
	b.WriteVInt(s.FilteredRowCount)
	b.WriteVInt(s.AggregatedRowCount)
	b.WriteVInt(s.ServiceStartTime)
	b.WriteVInt(s.ServiceEndTime)
	b.WriteString(s.Hostname)
	b.WriteVInt(int64(s.NormalComplete))
	b.WriteFloat64(s.SystemCpuLoad)
	b.WriteFloat64(s.FreePhysicalMemorySize)
	b.WriteFloat64(s.FreeSwapSpaceSize)
	b.WriteString(s.EtcMsg)

	b.WriteBool(rsp.ErrorInfo != nil)
	if rsp.ErrorInfo != nil {
		b.WriteVInt(int64(rsp.ErrorInfo.Type))
		b.WriteString(rsp.ErrorInfo.Message)
	}
}

func ReadVisitResponse(r *Reader) *model.VisitResponse {
	rsp := &model.VisitResponse{
		Shard:          uint16(r.ReadUVInt()),
		CompressedRows: r.ReadBytes(),
	}

	s := &rsp.Stats
	s.ScannedRowCount = r.ReadVInt()
	s.ScannedBytes = r.ReadVInt()
	s.FilteredRowCount = r.ReadVInt()
	s.AggregatedRowCount = r.ReadVInt()
	s.ServiceStartTime = r.ReadVInt()
	s.ServiceEndTime = r.ReadVInt()
	s.Hostname = r.ReadString()
	s.NormalComplete = int32(r.ReadVInt())
	s.SystemCpuLoad = r.ReadFloat64()
	s.FreePhysicalMemorySize = r.ReadFloat64()
	s.FreeSwapSpaceSize = r.ReadFloat64()
	s.EtcMsg = r.ReadString()

	if r.ReadBool() {
		rsp.ErrorInfo = &model.ErrorInfo{
			Type:    model.ErrorType(r.ReadVInt()),
			Message: r.ReadString(),
		}
	}
	return rsp
}

// 一个范围内所有分片的响应
func SerializeVisitResponses(initSize int, rsps []*model.VisitResponse) []byte {
	return Serialize(initSize, func(b *Buffer) {
		b.WriteVInt(int64(len(rsps)))
		for _, rsp := range rsps {
			WriteVisitResponse(b, rsp)
		}
	})
}

func DeserializeVisitResponses(bs []byte) ([]*model.VisitResponse, error) {
	r := NewReader(bs)
	n := r.readCount()
	rsps := make([]*model.VisitResponse, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		rsps = append(rsps, ReadVisitResponse(r))
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize visit responses fail: %w", r.Err())
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("deserialize visit responses fail: %d trailing bytes", r.Remaining())
	}
	return rsps, nil
}
