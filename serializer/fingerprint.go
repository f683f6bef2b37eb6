package serializer

import (
	"strings"

	"github.com/zlyuancn/shardscan/model"
)

// 扫描计划指纹, 用作分段结果缓存key. 字段集合或顺序变化都会使已有缓存失效
func ScanRequestFingerprint(initSize int, s *model.ScanRequest, isExactAggregate bool) string {
	bs := Serialize(initSize, func(b *Buffer) {
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
		if s.AllowStorageAggregation {
			b.WriteVInt(1)
		} else {
			b.WriteVInt(0)
		}
		b.WriteString(string(s.StorageLimitLevel))
		b.WriteVInt(int64(s.StorageScanRowNumThreshold))
		b.WriteVInt(int64(s.StoragePushDownLimit))
		b.WriteString(s.StorageBehavior)
		b.WriteBoolArray([]bool{isExactAggregate})
	})
	return ToStringBinary(bs)
}

const hexDigits = "0123456789ABCDEF"

// 可打印字符原样输出, 其它字节输出为 \xHH
func ToStringBinary(bs []byte) string {
	var sb strings.Builder
	sb.Grow(len(bs))
	for _, c := range bs {
		if isPrintable(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteString(`\x`)
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

func isPrintable(c byte) bool {
	if c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' {
		return true
	}
	return strings.IndexByte(" `~!@#$%^&*()-_=+[]{}|;:'\",.<>/?", c) >= 0
}
