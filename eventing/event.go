// Package eventing 定义领域事件及事件存储错误
package eventing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"esroot/messaging"
)

// AggregateDeletedEventType 聚合删除（墓碑）事件类型
const AggregateDeletedEventType = "AggregateDeleted"

// IEvent 事件接口（用于传输与路由）
type IEvent interface {
	messaging.IMessage

	GetAggregateID() string
	GetAggregateType() string
	GetVersion() uint64
}

// Event 领域事件。
//
// Version 为事件在所属聚合流中的位置（从 1 开始），由聚合在应用事件时填写；
// 事件一经应用即视为不可变，存储保存并返回副本。
type Event struct {
	messaging.Message
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	Version       uint64 `json:"version"`
	SchemaVersion int    `json:"schema_version"`
}

// NewEvent 创建事件：时间有序的 UUIDv7 作为事件 ID，当前时间作为时间戳
func NewEvent(eventType string, payload any) *Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Event{
		Message: messaging.Message{
			ID:        id.String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Payload:   payload,
			Metadata:  make(map[string]any),
		},
		SchemaVersion: 1,
	}
}

// NewTombstone 创建聚合删除事件
func NewTombstone() *Event {
	return NewEvent(AggregateDeletedEventType, nil)
}

func (e *Event) GetAggregateID() string   { return e.AggregateID }
func (e *Event) GetAggregateType() string { return e.AggregateType }
func (e *Event) GetVersion() uint64       { return e.Version }

// Kind 实现 messaging.IKinded
func (e *Event) Kind() string { return messaging.KindEvent }

// AggregateRef 实现 messaging.IAggregateBound
func (e *Event) AggregateRef() messaging.AggregateRef {
	return messaging.AggregateRef{ID: e.AggregateID, Type: e.AggregateType, Version: e.Version}
}

// IsTombstone 是否为删除事件
func (e *Event) IsTombstone() bool {
	return e.Type == AggregateDeletedEventType
}

// GetSchemaVersion 负载模式版本，未设置视为 1
func (e *Event) GetSchemaVersion() int {
	if e.SchemaVersion <= 0 {
		return 1
	}
	return e.SchemaVersion
}

// Validate 校验可持久化的事件
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return invalidEvent(e, "event id is empty")
	case e.Type == "":
		return invalidEvent(e, "event type is empty")
	case e.AggregateID == "":
		return invalidEvent(e, "aggregate id is empty")
	case e.AggregateType == "":
		return invalidEvent(e, "aggregate type is empty")
	case e.Version == 0:
		return invalidEvent(e, "version must be greater than 0")
	}
	return nil
}

// Clone 返回副本；元数据浅拷贝，负载共享（负载按约定不可变）
func (e *Event) Clone() *Event {
	cp := *e
	cp.Metadata = messaging.CloneMetadata(e.Metadata)
	return &cp
}

// FromMessage 将传输层消息还原为事件（远程传输解码后的消息携带聚合元数据）
func FromMessage(msg messaging.IMessage) (*Event, bool) {
	switch m := msg.(type) {
	case *Event:
		return m, true
	case *messaging.Message:
		if kind, _ := m.Metadata[messaging.KeyMessageKind].(string); kind != "" && kind != messaging.KindEvent {
			return nil, false
		}
		ref := messaging.RefFromMetadata(m.Metadata)
		md := messaging.CloneMetadata(m.Metadata)
		messaging.StripTransportMetadata(md)
		return &Event{
			Message: messaging.Message{
				ID:        m.ID,
				Type:      m.Type,
				Timestamp: m.Timestamp,
				Payload:   m.Payload,
				Metadata:  md,
			},
			AggregateID:   ref.ID,
			AggregateType: ref.Type,
			Version:       ref.Version,
			SchemaVersion: 1,
		}, true
	default:
		return nil, false
	}
}

// PayloadAs 取出类型化负载；通用 JSON 值（远程传输或未注册类型的存储负载）会重新解码为 T
func PayloadAs[T any](e *Event) (T, error) {
	var zero T
	switch p := e.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
		return zero, invalidEvent(e, "payload is nil")
	}

	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return zero, invalidEvent(e, "payload is not encodable")
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, invalidEvent(e, fmt.Sprintf("payload does not decode as %T", zero))
	}
	return out, nil
}
