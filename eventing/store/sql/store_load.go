package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"esroot/data/db"
	"esroot/eventing"
	"esroot/eventing/store"
	"esroot/messaging"
)

const selectColumns = "id, type, aggregate_id, aggregate_type, version, schema_version, timestamp, payload, metadata"

func (s *SQLEventStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE aggregate_type = ? AND aggregate_id = ? AND version > ? ORDER BY version ASC",
		selectColumns, s.table())
	rows, err := s.db.Query(ctx, query, aggregateType, aggregateID, int64(afterVersion))
	if err != nil {
		return nil, eventing.StoreUnavailable("load events", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// StreamEvents 按追加顺序读取时间戳不早于 from 的事件
func (s *SQLEventStore) StreamEvents(ctx context.Context, from time.Time) ([]eventing.Event, error) {
	var fromNanos int64
	if !from.IsZero() {
		fromNanos = from.UnixNano()
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE timestamp >= ? ORDER BY seq ASC", selectColumns, s.table())
	rows, err := s.db.Query(ctx, query, fromNanos)
	if err != nil {
		return nil, eventing.StoreUnavailable("stream events", err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

func (s *SQLEventStore) scanEvents(rows db.IRows) ([]eventing.Event, error) {
	events := []eventing.Event{}
	for rows.Next() {
		var (
			id, typ        string
			aggID, aggType string
			ver            int64
			schema         int
			ts             int64
			payloadJSON    string
			metadataJSON   string
		)
		if err := rows.Scan(&id, &typ, &aggID, &aggType, &ver, &schema, &ts, &payloadJSON, &metadataJSON); err != nil {
			return nil, eventing.StoreUnavailable("scan event", err)
		}

		payload, err := s.decodePayload(typ, payloadJSON)
		if err != nil {
			e := eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "decode payload failed", err)
			e.EventID, e.EventType = id, typ
			return nil, e
		}

		metadata := map[string]any{}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
				e := eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "decode metadata failed", err)
				e.EventID, e.EventType = id, typ
				return nil, e
			}
		}

		events = append(events, eventing.Event{
			Message: messaging.Message{
				ID:        id,
				Type:      typ,
				Timestamp: time.Unix(0, ts),
				Payload:   payload,
				Metadata:  metadata,
			},
			AggregateID:   aggID,
			AggregateType: aggType,
			Version:       uint64(ver),
			SchemaVersion: schema,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eventing.StoreUnavailable("iterate events", err)
	}
	return events, nil
}

// decodePayload 已注册类型还原为强类型负载，否则为通用 JSON 值
func (s *SQLEventStore) decodePayload(eventType, payloadJSON string) (any, error) {
	if payloadJSON == "" || payloadJSON == "null" {
		return nil, nil
	}
	if s.registry != nil && s.registry.HasEvent(eventType) {
		return s.registry.Deserialize(eventType, []byte(payloadJSON))
	}
	var payload any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// HasAggregate 检查聚合是否存在
func (s *SQLEventStore) HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	version, err := s.GetAggregateVersion(ctx, aggregateType, aggregateID)
	return version > 0, err
}

// GetAggregateVersion 获取聚合的当前版本
func (s *SQLEventStore) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error) {
	version, err := s.currentVersion(ctx, s.db, aggregateType, aggregateID)
	if err != nil {
		return 0, eventing.StoreUnavailable("query aggregate version", err)
	}
	return version, nil
}

var (
	_ store.IEventStreamStore   = (*SQLEventStore)(nil)
	_ store.IAggregateInspector = (*SQLEventStore)(nil)
)
