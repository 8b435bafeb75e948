// Package registry 事件类型注册表，用于把存储或远程传输中的 JSON 负载还原为强类型事件负载
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEventType 事件类型未注册
var ErrUnknownEventType = errors.New("unknown event type")

// PayloadFactory 负载工厂函数，返回用于 JSON 解码的指针
type PayloadFactory func() any

type entry struct {
	factory       PayloadFactory
	schemaVersion int
}

// Registry 事件注册表
type Registry struct {
	entries map[string]entry
	mutex   sync.RWMutex
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register 注册事件类型
func (r *Registry) Register(eventType string, factory PayloadFactory) error {
	return r.RegisterWithVersion(eventType, 1, factory)
}

// RegisterWithVersion 注册带模式版本的事件类型
func (r *Registry) RegisterWithVersion(eventType string, schemaVersion int, factory PayloadFactory) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("payload factory cannot be nil for type %s", eventType)
	}
	if schemaVersion <= 0 {
		return fmt.Errorf("schema version must be greater than 0 for type %s", eventType)
	}
	if factory() == nil {
		return fmt.Errorf("payload factory returned nil for type %s", eventType)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[eventType]; exists {
		return fmt.Errorf("event type already registered: %s", eventType)
	}
	r.entries[eventType] = entry{factory: factory, schemaVersion: schemaVersion}
	return nil
}

// MustRegister 注册事件类型（失败 panic）
func (r *Registry) MustRegister(eventType string, factory PayloadFactory) {
	if err := r.Register(eventType, factory); err != nil {
		panic(err)
	}
}

// RegisterType 以 T 的零值指针作为工厂注册事件类型
func RegisterType[T any](r *Registry, eventType string) error {
	return r.Register(eventType, func() any { return new(T) })
}

// Unregister 取消注册
func (r *Registry) Unregister(eventType string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, eventType)
}

// Deserialize 按事件类型反序列化 JSON 数据，返回工厂创建的指针
func (r *Registry) Deserialize(eventType string, data []byte) (any, error) {
	r.mutex.RLock()
	e, exists := r.entries[eventType]
	r.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	instance := e.factory()
	if err := json.Unmarshal(data, instance); err != nil {
		return nil, fmt.Errorf("failed to deserialize event %s: %w", eventType, err)
	}
	return instance, nil
}

// Decode 将通用负载（JSON 文本、字节或 map）转换为强类型负载。
//
// 未注册的类型原样返回负载；其他已是强类型的负载也原样返回。
func (r *Registry) Decode(eventType string, payload any) (any, error) {
	if !r.HasEvent(eventType) {
		return payload, nil
	}

	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	case string:
		data = []byte(p)
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event map for %s: %w", eventType, err)
		}
		data = b
	default:
		return payload, nil
	}
	return r.Deserialize(eventType, data)
}

// HasEvent 检查事件类型是否已注册
func (r *Registry) HasEvent(eventType string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.entries[eventType]
	return exists
}

// RegisteredTypes 已注册的事件类型（排序）
func (r *Registry) RegisteredTypes() []string {
	r.mutex.RLock()
	types := make([]string, 0, len(r.entries))
	for eventType := range r.entries {
		types = append(types, eventType)
	}
	r.mutex.RUnlock()

	sort.Strings(types)
	return types
}

// SchemaVersion 获取事件类型的模式版本，未注册时为 1
func (r *Registry) SchemaVersion(eventType string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if e, ok := r.entries[eventType]; ok {
		return e.schemaVersion
	}
	return 1
}

var globalRegistry = NewRegistry()

// Global 进程级注册表
func Global() *Registry { return globalRegistry }
