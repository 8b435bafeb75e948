// Package command 提供命令模型与命令分发器
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"esroot/messaging"
)

// Command 命令：Message 的特化，Type 为命令类型，指向一个聚合。
//
// 命令只表达写意图，没有返回值；分发后不可再修改。
type Command struct {
	messaging.Message

	// AggregateID 目标聚合标识的文本形式；创建类命令可为空
	AggregateID   string `json:"aggregate_id,omitempty"`
	AggregateType string `json:"aggregate_type,omitempty"`
}

// NewCommand 创建命令，ID 为时间有序的 UUIDv7
func NewCommand(commandType, aggregateID string, payload any) *Command {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Command{
		Message: messaging.Message{
			ID:        id.String(),
			Type:      commandType,
			Timestamp: time.Now(),
			Payload:   payload,
			Metadata:  make(map[string]any),
		},
		AggregateID: aggregateID,
	}
}

// Kind 实现 messaging.IKinded
func (c *Command) Kind() string { return messaging.KindCommand }

// AggregateRef 实现 messaging.IAggregateBound
func (c *Command) AggregateRef() messaging.AggregateRef {
	return messaging.AggregateRef{ID: c.AggregateID, Type: c.AggregateType}
}

// WithAggregateType 设置目标聚合类型（链式调用）
func (c *Command) WithAggregateType(aggregateType string) *Command {
	c.AggregateType = aggregateType
	return c
}

// WithMetadata 添加元数据（链式调用）
func (c *Command) WithMetadata(key string, value any) *Command {
	c.SetMetadata(key, value)
	return c
}

// WithCorrelationID 设置关联 ID
func (c *Command) WithCorrelationID(correlationID string) *Command {
	c.SetMetadata(messaging.KeyCorrelationID, correlationID)
	return c
}

// WithCausationID 设置因果 ID（触发此命令的消息 ID）
func (c *Command) WithCausationID(causationID string) *Command {
	c.SetMetadata(messaging.KeyCausationID, causationID)
	return c
}

// Validate 校验命令
func (c *Command) Validate() error {
	if c == nil {
		return NewCommandError(ErrCodeInvalidCommand, "command is nil", nil)
	}
	if c.Type == "" {
		return NewCommandError(ErrCodeInvalidCommand, "command type is empty", nil).withType(c.Type)
	}
	return nil
}

// FromMessage 将传输层消息还原为命令（远程传输解码后的消息携带聚合元数据）
func FromMessage(msg messaging.IMessage) (*Command, bool) {
	if cmd, ok := msg.(*Command); ok {
		return cmd, true
	}
	m, ok := msg.(*messaging.Message)
	if !ok {
		return nil, false
	}
	if kind, _ := m.Metadata[messaging.KeyMessageKind].(string); kind != "" && kind != messaging.KindCommand {
		return nil, false
	}

	ref := messaging.RefFromMetadata(m.Metadata)
	md := messaging.CloneMetadata(m.Metadata)
	messaging.StripTransportMetadata(md)
	return &Command{
		Message: messaging.Message{
			ID:        m.ID,
			Type:      m.Type,
			Timestamp: m.Timestamp,
			Payload:   m.Payload,
			Metadata:  md,
		},
		AggregateID:   ref.ID,
		AggregateType: ref.Type,
	}, true
}

// PayloadAs 取出类型化负载；远程传输解码出的通用 JSON 值会重新解码为 T
func PayloadAs[T any](c *Command) (T, error) {
	var zero T
	switch p := c.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
		return zero, NewCommandError(ErrCodeInvalidCommand, "payload is nil", nil).withType(c.Type)
	}

	raw, err := json.Marshal(c.Payload)
	if err != nil {
		return zero, NewCommandError(ErrCodeInvalidCommand, "payload is not encodable", err).withType(c.Type)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, NewCommandError(ErrCodeInvalidCommand,
			fmt.Sprintf("payload does not decode as %T", zero), err).withType(c.Type)
	}
	return out, nil
}
