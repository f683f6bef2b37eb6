package model

import (
	"errors"
)

var (
	ErrCoprocessorFailed     = errors.New("coprocessor failed")
	ErrTimeout               = errors.New("timeout")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	ErrProtocolDrift         = errors.New("protocol drift")
	ErrTransport             = errors.New("transport failure")
)

// 分发过程中的终止错误, Kind 为上面的哨兵错误之一
type VisitError struct {
	Kind  error
	Msg   string
	Cause error
}

func NewVisitError(kind error, msg string, cause error) *VisitError {
	return &VisitError{Kind: kind, Msg: msg, Cause: cause}
}

func (e *VisitError) Error() string {
	s := e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *VisitError) Is(target error) bool {
	return target == e.Kind
}

func (e *VisitError) Unwrap() error {
	return e.Cause
}

// 获取错误类型, 无法识别的错误视为协处理器失败
func ErrKindOf(err error) error {
	for _, kind := range []error{ErrTimeout, ErrResourceLimitExceeded, ErrProtocolDrift, ErrTransport, ErrCoprocessorFailed} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrCoprocessorFailed
}
