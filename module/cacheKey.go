package module

import (
	"github.com/zlyuancn/shardscan/model"
)

var CacheKey = cacheKeyCli{}

type cacheKeyCli struct{}

// 分段查询结果缓存key
func (cacheKeyCli) GetSegmentQuery(seg *model.Segment, fingerprint string) string {
	return seg.CubeName + "_" + seg.Uuid + "_" + fingerprint
}
