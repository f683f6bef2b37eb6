package serializer

import (
	"fmt"

	"github.com/zlyuancn/shardscan/model"
)

func SerializeVisitRequest(initSize int, req *model.VisitRequest) []byte {
	return Serialize(initSize, func(b *Buffer) {
		b.WriteBytes(req.ScanRequest)
		b.WriteBytes(req.RawScan)
		b.WriteVInt(int64(len(req.ColumnsToGT)))
		for _, ints := range req.ColumnsToGT {
			b.WriteInt32Array(ints)
		}
		b.WriteVInt(int64(req.RowKeyPreambleSize))
		b.WriteString(req.QueryId)
		b.WriteBool(req.SpillEnabled)
		b.WriteVInt(req.MaxScanBytes)
		b.WriteBool(req.IsExactAggregate)
		b.WriteString(req.Properties)
	})
}

func DeserializeVisitRequest(bs []byte) (*model.VisitRequest, error) {
	r := NewReader(bs)
	req := &model.VisitRequest{
		ScanRequest: r.ReadBytes(),
		RawScan:     r.ReadBytes(),
	}
	if n := r.readCount(); n > 0 {
		req.ColumnsToGT = make([][]int32, n)
		for i := range req.ColumnsToGT {
			req.ColumnsToGT[i] = r.ReadInt32Array()
		}
	}
	req.RowKeyPreambleSize = int32(r.ReadVInt())
	req.QueryId = r.ReadString()
	req.SpillEnabled = r.ReadBool()
	req.MaxScanBytes = r.ReadVInt()
	req.IsExactAggregate = r.ReadBool()
	req.Properties = r.ReadString()
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize visit request fail: %w", r.Err())
	}
	return req, nil
}
