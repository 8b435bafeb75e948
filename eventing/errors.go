package eventing

import "fmt"

// 事件存储错误码
const (
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInvalidEvent     = "INVALID_EVENT"
	ErrCodeVersionSequence  = "VERSION_SEQUENCE"
)

// EventStoreError 事件存储错误，errors.Is 按错误码匹配
type EventStoreError struct {
	Code      string
	Message   string
	Cause     error
	EventID   string
	EventType string
}

// NewEventStoreError 创建事件存储错误
func NewEventStoreError(code, message string, cause error) *EventStoreError {
	return &EventStoreError{Code: code, Message: message, Cause: cause}
}

func (e *EventStoreError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.EventID != "" {
		msg += fmt.Sprintf(" (event %s %s)", e.EventType, e.EventID)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *EventStoreError) Unwrap() error { return e.Cause }

func (e *EventStoreError) Is(target error) bool {
	t, ok := target.(*EventStoreError)
	return ok && t.Code == e.Code
}

// 哨兵错误（仅用于 errors.Is 比较）
var (
	ErrStoreUnavailable = &EventStoreError{Code: ErrCodeStoreUnavailable, Message: "event store unavailable"}
	ErrInvalidEvent     = &EventStoreError{Code: ErrCodeInvalidEvent, Message: "invalid event"}
	ErrVersionSequence  = &EventStoreError{Code: ErrCodeVersionSequence, Message: "event versions are not sequential"}
)

// StoreUnavailable 包装存储 I/O 失败
func StoreUnavailable(operation string, cause error) *EventStoreError {
	return NewEventStoreError(ErrCodeStoreUnavailable, operation, cause)
}

func invalidEvent(e *Event, reason string) *EventStoreError {
	err := NewEventStoreError(ErrCodeInvalidEvent, reason, nil)
	if e != nil {
		err.EventID = e.ID
		err.EventType = e.Type
	}
	return err
}

// ConcurrencyError 乐观并发冲突：流的当前版本与期望版本不一致
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion uint64
	ActualVersion   uint64
}

func NewConcurrencyError(aggregateID string, expected, actual uint64) *ConcurrencyError {
	return &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expected, ActualVersion: actual}
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict: aggregate %s expected version %d, actual version %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is 任意 ConcurrencyError 彼此匹配
func (e *ConcurrencyError) Is(target error) bool {
	_, ok := target.(*ConcurrencyError)
	return ok
}

// ErrConcurrencyConflict 用于 errors.Is 比较
var ErrConcurrencyConflict = &ConcurrencyError{}
