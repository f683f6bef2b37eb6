package classifier

import (
	"errors"
	"strconv"

	"github.com/zlyuancn/shardscan/model"
)

// 将存储端的异常响应转换为错误.
//
// 未知的错误类型说明协议已不一致, 直接 panic, 由调用方的任务边界恢复.
func CoprocessorError(rsp *model.VisitResponse) error {
	if rsp.ErrorInfo == nil {
		return model.NewVisitError(model.ErrCoprocessorFailed,
			"coprocessor aborts on shard "+strconv.Itoa(int(rsp.Shard))+" with no error info", nil)
	}

	info := rsp.ErrorInfo
	switch info.Type {
	case model.ErrorType_Unknown:
		return model.NewVisitError(model.ErrCoprocessorFailed, info.Message, nil)
	case model.ErrorType_Timeout:
		return model.NewVisitError(model.ErrTimeout, info.Message, nil)
	case model.ErrorType_ResourceLimitExceeded:
		return model.NewVisitError(model.ErrResourceLimitExceeded, info.Message, nil)
	}
	panic("unknown coprocessor error type: " + info.Type.String())
}

// 响应是否异常
func IsAbnormal(rsp *model.VisitResponse) bool {
	return rsp.ErrorInfo != nil || rsp.Stats.NormalComplete != model.NormalComplete
}

// 只有超时可以重试
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrTimeout)
}
