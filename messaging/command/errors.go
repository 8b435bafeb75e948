package command

import "fmt"

// ErrorCode 命令错误码
type ErrorCode string

const (
	ErrCodeInvalidCommand   ErrorCode = "INVALID_COMMAND"
	ErrCodeDispatcherClosed ErrorCode = "DISPATCHER_CLOSED"
	ErrCodeDispatchFailed   ErrorCode = "DISPATCH_FAILED"
)

// CommandError 命令错误
type CommandError struct {
	Code        ErrorCode
	Message     string
	CommandType string
	Cause       error
}

// NewCommandError 创建命令错误
func NewCommandError(code ErrorCode, message string, cause error) *CommandError {
	return &CommandError{Code: code, Message: message, Cause: cause}
}

func (e *CommandError) withType(commandType string) *CommandError {
	e.CommandType = commandType
	return e
}

func (e *CommandError) Error() string {
	prefix := string(e.Code)
	if e.CommandType != "" {
		prefix += " [" + e.CommandType + "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Cause }

// Is 基于错误码匹配
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 哨兵错误（仅用于 errors.Is 比较）
var (
	ErrInvalidCommand   = &CommandError{Code: ErrCodeInvalidCommand}
	ErrDispatcherClosed = &CommandError{Code: ErrCodeDispatcherClosed}
	ErrDispatchFailed   = &CommandError{Code: ErrCodeDispatchFailed}
)
