// Package messaging 提供消息、处理器、传输层与消息总线的核心抽象
package messaging

import (
	"time"
)

// 消息种类
const (
	KindEvent   = "event"
	KindCommand = "command"
)

// IMessage 消息接口
type IMessage interface {
	GetID() string

	// GetType 返回路由用的消息类型（事件类型或命令类型）
	GetType() string

	GetTimestamp() time.Time
	GetPayload() any
	GetMetadata() map[string]any
}

// IKinded 可选接口：声明消息种类（event / command）
type IKinded interface {
	Kind() string
}

// Message 消息基础实现
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage 创建新消息
func NewMessage(id, messageType string, payload any) *Message {
	return &Message{
		ID:        id,
		Type:      messageType,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

// GetMetadata 获取元数据（惰性初始化）
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	m.GetMetadata()[key] = value
}

// MetadataString 读取字符串元数据，不存在或类型不符时返回空串
func (m *Message) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// CloneMetadata 浅拷贝元数据，nil 保持 nil
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
