package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// 远程传输时携带聚合信息与消息种类的元数据键
const (
	KeyAggregateID      = "aggregate_id"
	KeyAggregateType    = "aggregate_type"
	KeyAggregateVersion = "aggregate_version"
	KeyMessageKind      = "message_kind"
)

// AggregateRef 消息所属聚合
type AggregateRef struct {
	ID      string
	Type    string
	Version uint64
}

// IAggregateBound 可选接口：消息关联某个聚合（事件、命令）
type IAggregateBound interface {
	AggregateRef() AggregateRef
}

// Envelope 远程传输的消息信封，payload 与 metadata 为 JSON 文本
type Envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   string `json:"payload"`
	Metadata  string `json:"metadata"`
}

// Seal 将消息编码为信封，聚合信息与种类写入元数据副本
func Seal(msg IMessage) (Envelope, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload of %s: %w", msg.GetID(), err)
	}

	md := CloneMetadata(msg.GetMetadata())
	if md == nil {
		md = make(map[string]any)
	}
	if k, ok := msg.(IKinded); ok {
		md[KeyMessageKind] = k.Kind()
	}
	if b, ok := msg.(IAggregateBound); ok {
		ref := b.AggregateRef()
		md[KeyAggregateID] = ref.ID
		md[KeyAggregateType] = ref.Type
		md[KeyAggregateVersion] = strconv.FormatUint(ref.Version, 10)
	}
	metadata, err := json.Marshal(md)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode metadata of %s: %w", msg.GetID(), err)
	}

	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return Envelope{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   string(payload),
		Metadata:  string(metadata),
	}, nil
}

// Open 将信封还原为 Message；payload 解码为通用 JSON 值，具体类型由上层按需转换
func Open(env Envelope) (*Message, error) {
	var payload any
	if env.Payload != "" {
		if err := json.Unmarshal([]byte(env.Payload), &payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", env.ID, err)
		}
	}
	metadata := make(map[string]any)
	if env.Metadata != "" {
		if err := json.Unmarshal([]byte(env.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", env.ID, err)
		}
	}
	return &Message{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: time.Unix(0, env.Timestamp),
		Payload:   payload,
		Metadata:  metadata,
	}, nil
}

// RefFromMetadata 从元数据读取聚合信息
func RefFromMetadata(md map[string]any) AggregateRef {
	ref := AggregateRef{}
	ref.ID, _ = md[KeyAggregateID].(string)
	ref.Type, _ = md[KeyAggregateType].(string)
	switch v := md[KeyAggregateVersion].(type) {
	case string:
		ref.Version, _ = strconv.ParseUint(v, 10, 64)
	case float64:
		ref.Version = uint64(v)
	case uint64:
		ref.Version = v
	}
	return ref
}

// StripTransportMetadata 删除传输层写入的元数据键
func StripTransportMetadata(md map[string]any) {
	delete(md, KeyAggregateID)
	delete(md, KeyAggregateType)
	delete(md, KeyAggregateVersion)
	delete(md, KeyMessageKind)
}
