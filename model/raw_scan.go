package model

// 存储端列
type StoreColumn struct {
	Family    []byte
	Qualifier []byte
}

// 模糊匹配行键, Mask 中 0 表示该字节固定, 1 表示任意
type FuzzyKey struct {
	Key  []byte
	Mask []byte
}

// 单个分片内的原始扫描描述
type RawScan struct {
	StartKey      []byte
	EndKey        []byte
	Columns       []StoreColumn
	FuzzyKeys     []FuzzyKey
	Caching       int32
	MaxResultSize int64
}
