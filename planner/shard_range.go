package planner

import (
	"github.com/zlyuancn/shardscan/model"
)

// 计算需要访问的分片范围. 分片是首尾相接的环, 跨越环尾时拆成两个范围
//
//	0,1,2,3,4 从 4 开始取 2 个 => [4,4] [0,0]
func ComputeRanges(baseShard, shardNum, totalShards uint16) []model.ShardRange {
	if shardNum == 0 {
		return []model.ShardRange{}
	}

	// 所有分片
	if shardNum == totalShards {
		return []model.ShardRange{{Start: 0, End: totalShards - 1}}
	}

	end := int(baseShard) + int(shardNum)
	if end <= int(totalShards) {
		return []model.ShardRange{{Start: baseShard, End: uint16(end - 1)}}
	}

	return []model.ShardRange{
		{Start: baseShard, End: totalShards - 1},
		{Start: 0, End: uint16(end - int(totalShards) - 1)},
	}
}

// 范围内的分片总数
func CountShards(ranges []model.ShardRange) int {
	n := 0
	for _, r := range ranges {
		n += r.Len()
	}
	return n
}
