package errors

import (
	stdErrors "errors"

	"esroot/eventing"
	"esroot/messaging/command"
)

// Normalize 将事件存储与命令层的错误规范化为 AppError。
//
// 已经是 IError 的错误原样返回；未识别的错误保持原样，由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return err
	}

	var concurrencyErr *eventing.ConcurrencyError
	if stdErrors.As(err, &concurrencyErr) {
		return WrapError(err, ErrCodeConcurrency, "事件存储并发冲突")
	}

	var storeErr *eventing.EventStoreError
	if stdErrors.As(err, &storeErr) {
		switch storeErr.Code {
		case eventing.ErrCodeInvalidEvent, eventing.ErrCodeVersionSequence:
			return WrapError(err, ErrCodeInvalidInput, "无效的事件")
		default:
			return WrapError(err, ErrCodeStoreUnavailable, "事件存储不可用")
		}
	}

	var cmdErr *command.CommandError
	if stdErrors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case command.ErrCodeInvalidCommand:
			return WrapError(err, ErrCodeInvalidInput, "无效的命令")
		case command.ErrCodeDispatcherClosed:
			return WrapError(err, ErrCodeQueue, "命令分发器已关闭")
		}
	}

	return err
}
