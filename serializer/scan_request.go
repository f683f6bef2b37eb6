package serializer

import (
	"fmt"

	"github.com/zlyuancn/shardscan/model"
)

func writeRecord(b *Buffer, rec model.Record) {
	b.WriteVInt(int64(len(rec)))
	for _, col := range rec {
		b.WriteBytes(col)
	}
}

func readRecord(r *Reader) model.Record {
	n := r.readCount()
	if n == 0 {
		return model.Record{}
	}
	rec := make(model.Record, n)
	for i := range rec {
		rec[i] = r.ReadBytes()
	}
	return rec
}

func writeScanRange(b *Buffer, sr *model.ScanRange) {
	writeRecord(b, sr.PkStart)
	writeRecord(b, sr.PkEnd)
	b.WriteVInt(int64(len(sr.FuzzyKeys)))
	for _, f := range sr.FuzzyKeys {
		writeRecord(b, f)
	}
}

func readScanRange(r *Reader) *model.ScanRange {
	sr := &model.ScanRange{
		PkStart: readRecord(r),
		PkEnd:   readRecord(r),
	}
	n := r.readCount()
	if n > 0 {
		sr.FuzzyKeys = make([]model.Record, n)
		for i := range sr.FuzzyKeys {
			sr.FuzzyKeys[i] = readRecord(r)
		}
	}
	return sr
}

func writeScanRequest(b *Buffer, s *model.ScanRequest) {
	b.WriteBytes(s.Info)
	b.WriteVInt(int64(len(s.ScanRanges)))
	for _, sr := range s.ScanRanges {
		writeScanRange(b, sr)
	}
	b.WriteBitmap(s.Columns)
	b.WriteBytes(s.FilterPushDown)
	b.WriteBitmap(s.AggrGroupBy)
	b.WriteBitmap(s.AggrMetrics)
	b.WriteStringArray(s.AggrMetricsFuncs)
	b.WriteBool(s.AllowStorageAggregation)
	b.WriteString(string(s.StorageLimitLevel))
	b.WriteVInt(int64(s.StorageScanRowNumThreshold))
	b.WriteVInt(int64(s.StoragePushDownLimit))
	b.WriteString(s.StorageBehavior)
	b.WriteVInt(s.TimeoutMs)
	b.WriteBitmap(s.ColBlocks)
}

// 序列化扫描计划
func SerializeScanRequest(initSize int, s *model.ScanRequest) []byte {
	return Serialize(initSize, func(b *Buffer) {
		writeScanRequest(b, s)
	})
}

func DeserializeScanRequest(bs []byte) (*model.ScanRequest, error) {
	r := NewReader(bs)
	s := &model.ScanRequest{}
	s.Info = r.ReadBytes()
	n := r.readCount()
	if n > 0 {
		s.ScanRanges = make([]*model.ScanRange, n)
		for i := range s.ScanRanges {
			s.ScanRanges[i] = readScanRange(r)
		}
	}
	s.Columns = r.ReadBitmap()
	s.FilterPushDown = r.ReadBytes()
	s.AggrGroupBy = r.ReadBitmap()
	s.AggrMetrics = r.ReadBitmap()
	s.AggrMetricsFuncs = r.ReadStringArray()
	s.AllowStorageAggregation = r.ReadBool()
	s.StorageLimitLevel = model.StorageLimitLevel(r.ReadString())
	s.StorageScanRowNumThreshold = int32(r.ReadVInt())
	s.StoragePushDownLimit = int32(r.ReadVInt())
	s.StorageBehavior = r.ReadString()
	s.TimeoutMs = r.ReadVInt()
	s.ColBlocks = r.ReadBitmap()
	if r.Err() != nil {
		return nil, fmt.Errorf("deserialize scan request fail: %w", r.Err())
	}
	return s, nil
}
