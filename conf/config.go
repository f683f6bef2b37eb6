package conf

import (
	"github.com/spf13/cast"
	"github.com/zly-app/zapp/config"
	"github.com/zly-app/zapp/log"
)

const ConfigKey = "shardscan"

const (
	defCoprocessorTimeoutMs  = 60000
	defQueryTimeoutRatio     = 3
	defQueryMaxScanBytes     = 3 * 1024 * 1024 * 1024
	defPartitionMaxScanBytes = 3 * 1024 * 1024 * 1024
	defCompressType          = "lz4"
	defSerializeBufferSize   = 65536
	defDispatchPoolSize      = 256
	defRawScanCaching        = 1024
	defRawScanMaxResultSize  = 5 * 1024 * 1024
	defMaxUnCompressSizeMB   = 1024

	defSegmentCacheLruCount     = 1000
	defSegmentCacheTtlSec       = 3600
	defSegmentCacheMaxSizeMB    = 5
	defSegmentCacheKeyPrefix    = "shardscan:segment:"
	defSegmentCacheStatsCronSec = 600

	defSysLogWriteLevel = "warn"

	defStoreTarget = "localhost:16020"
	defGrpcName    = "shardscan"
)

var Conf = Config{
	CoprocessorTimeoutMs:  defCoprocessorTimeoutMs,
	QueryTimeoutRatio:     defQueryTimeoutRatio,
	QueryMaxScanBytes:     defQueryMaxScanBytes,
	PartitionMaxScanBytes: defPartitionMaxScanBytes,
	CompressionResult:     true,
	CompressType:          defCompressType,
	SerializeBufferSize:   defSerializeBufferSize,
	DispatchPoolSize:      defDispatchPoolSize,
	RawScanCaching:        defRawScanCaching,
	RawScanMaxResultSize:  defRawScanMaxResultSize,
	MaxUnCompressSizeMB:   defMaxUnCompressSizeMB,

	SegmentCacheLruCount:     defSegmentCacheLruCount,
	SegmentCacheTtlSec:       defSegmentCacheTtlSec,
	SegmentCacheMaxSizeMB:    defSegmentCacheMaxSizeMB,
	SegmentCacheKeyPrefix:    defSegmentCacheKeyPrefix,
	SegmentCacheStatsCronSec: defSegmentCacheStatsCronSec,

	SysLogWriteLevel: defSysLogWriteLevel,

	StoreTarget: defStoreTarget,
	GrpcName:    defGrpcName,
}

type Config struct {
	// 扫描

	CoprocessorTimeoutMs  int64 // 协处理器超时毫秒数, 会写入扫描请求让存储端自行中止
	QueryTimeoutRatio     int   // 结果流超时 = 协处理器超时 * 该倍数
	QueryMaxScanBytes     int64 // 一次查询所有分片累计扫描字节上限
	PartitionMaxScanBytes int64 // 单个分片扫描字节上限, 由存储端检查
	SpillEnabled          bool  // 存储端聚合内存不足时是否允许落盘
	CompressionResult     bool  // 存储端返回的行数据是否压缩
	CompressType          string
	MaxUnCompressSizeMB   int // 单个分片结果解压后的最大尺寸
	SerializeBufferSize   int // 序列化初始缓冲区大小, 不足时扩大为4倍重试
	DispatchPoolSize      int // 分发协程池大小, 进程共享
	RawScanCaching        int32
	RawScanMaxResultSize  int64

	// 分段结果缓存

	SegmentCacheEnabled      bool
	SegmentCacheLruCount     int      // 本地lru缓存条数
	SegmentCacheTtlSec       int      // 缓存有效期秒数
	SegmentCacheMaxSizeMB    int      // 单条缓存最大尺寸, 超过则不缓存
	SegmentCacheRedisName    string // redis组件名, 为空表示不使用redis
	SegmentCacheKeyPrefix    string
	SegmentCacheStatsCronSec int // 缓存统计日志输出间隔秒数

	// 查询事件日志

	SysLogEnabled    bool
	SysLogWriteLevel string // info, warn, err

	// 组件名

	StoreTarget string // 存储端地址
	GrpcName    string // 对外扫描服务名

	// 透传给存储端的属性
	StoreProperties map[string]any
}

func (conf *Config) Check() {
	if conf.CoprocessorTimeoutMs < 1 {
		conf.CoprocessorTimeoutMs = defCoprocessorTimeoutMs
	}
	if conf.QueryTimeoutRatio < 1 {
		conf.QueryTimeoutRatio = defQueryTimeoutRatio
	}
	if conf.QueryMaxScanBytes < 1 {
		conf.QueryMaxScanBytes = defQueryMaxScanBytes
	}
	if conf.PartitionMaxScanBytes < 1 {
		conf.PartitionMaxScanBytes = defPartitionMaxScanBytes
	}
	if conf.CompressType == "" {
		conf.CompressType = defCompressType
	}
	if conf.MaxUnCompressSizeMB < 1 {
		conf.MaxUnCompressSizeMB = defMaxUnCompressSizeMB
	}
	if conf.SerializeBufferSize < 1 {
		conf.SerializeBufferSize = defSerializeBufferSize
	}
	if conf.DispatchPoolSize < 1 {
		conf.DispatchPoolSize = defDispatchPoolSize
	}
	if conf.RawScanCaching < 1 {
		conf.RawScanCaching = defRawScanCaching
	}
	if conf.RawScanMaxResultSize < 1 {
		conf.RawScanMaxResultSize = defRawScanMaxResultSize
	}

	if conf.SegmentCacheLruCount < 1 {
		conf.SegmentCacheLruCount = defSegmentCacheLruCount
	}
	if conf.SegmentCacheTtlSec < 1 {
		conf.SegmentCacheTtlSec = defSegmentCacheTtlSec
	}
	if conf.SegmentCacheMaxSizeMB < 1 {
		conf.SegmentCacheMaxSizeMB = defSegmentCacheMaxSizeMB
	}
	if conf.SegmentCacheKeyPrefix == "" {
		conf.SegmentCacheKeyPrefix = defSegmentCacheKeyPrefix
	}
	if conf.SegmentCacheStatsCronSec < 1 {
		conf.SegmentCacheStatsCronSec = defSegmentCacheStatsCronSec
	}

	if conf.SysLogWriteLevel == "" {
		conf.SysLogWriteLevel = defSysLogWriteLevel
	}

	if conf.StoreTarget == "" {
		conf.StoreTarget = defStoreTarget
	}
	if conf.GrpcName == "" {
		conf.GrpcName = defGrpcName
	}
}

// 单条分段缓存允许的最大字节数
func (conf *Config) SegmentCacheMaxSize() int {
	return conf.SegmentCacheMaxSizeMB * 1024 * 1024
}

// 单个分片结果解压后允许的最大字节数
func (conf *Config) MaxUnCompressSize() int64 {
	return int64(conf.MaxUnCompressSizeMB) * 1024 * 1024
}

// 透传给存储端的属性, 值统一转为字符串
func (conf *Config) ExportStoreProperties() map[string]string {
	ret := make(map[string]string, len(conf.StoreProperties))
	for k, v := range conf.StoreProperties {
		ret[k] = cast.ToString(v)
	}
	return ret
}

func Init() error {
	err := config.Conf.Parse(ConfigKey, &Conf, true)
	if err != nil {
		log.Error("Parse config fail. err=", err)
		return err
	}
	Conf.Check()
	return nil
}
