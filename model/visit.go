package model

import (
	"strconv"
)

// 存储端响应的错误类型
type ErrorType int32

const (
	ErrorType_Unknown               ErrorType = 0
	ErrorType_Timeout               ErrorType = 1
	ErrorType_ResourceLimitExceeded ErrorType = 2
)

func (t ErrorType) String() string {
	switch t {
	case ErrorType_Unknown:
		return "UNKNOWN_TYPE"
	case ErrorType_Timeout:
		return "TIMEOUT"
	case ErrorType_ResourceLimitExceeded:
		return "RESOURCE_LIMIT_EXCEEDED"
	}
	return "ErrorType(" + strconv.Itoa(int(t)) + ")"
}

// 正常完成标记
const NormalComplete int32 = 1

// 发给每个分片的访问请求, 构建一次后所有分发任务只读共享
type VisitRequest struct {
	ScanRequest        []byte    // 已序列化的扫描计划, 不含扫描区间
	RawScan            []byte    // 已序列化的原始扫描列表
	ColumnsToGT        [][]int32 // 存储端列到表格列的映射
	RowKeyPreambleSize int32
	QueryId            string
	SpillEnabled       bool
	MaxScanBytes       int64
	IsExactAggregate   bool
	Properties         string
}

type ErrorInfo struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// 存储端执行统计
type Stats struct {
	ScannedRowCount        int64   `json:"scanned_row_count"`
	ScannedBytes           int64   `json:"scanned_bytes"`
	FilteredRowCount       int64   `json:"filtered_row_count"`
	AggregatedRowCount     int64   `json:"aggregated_row_count"`
	ServiceStartTime       int64   `json:"service_start_time"` // 毫秒
	ServiceEndTime         int64   `json:"service_end_time"`
	Hostname               string  `json:"hostname"`
	NormalComplete         int32   `json:"normal_complete"`
	SystemCpuLoad          float64 `json:"system_cpu_load"`
	FreePhysicalMemorySize float64 `json:"free_physical_memory_size"`
	FreeSwapSpaceSize      float64 `json:"free_swap_space_size"`
	EtcMsg                 string  `json:"etc_msg"`
}

// 存储端耗时毫秒
func (s *Stats) ElapsedMs() int64 {
	return s.ServiceEndTime - s.ServiceStartTime
}

// 单个分片的访问响应
type VisitResponse struct {
	Shard          uint16     `json:"shard"`
	CompressedRows []byte     `json:"compressed_rows"`
	Stats          Stats      `json:"stats"`
	ErrorInfo      *ErrorInfo `json:"error_info,omitempty"`
}
