package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, userID string, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		UserID:        userID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// Values はRedis Streamエントリのフィールドに変換する。
func (e *Event) Values() map[string]any {
	return map[string]any{
		"id":             e.ID,
		"aggregate_id":   e.AggregateID,
		"aggregate_type": string(e.AggregateType),
		"event_type":     string(e.EventType),
		"user_id":        e.UserID,
		"data":           string(e.Data),
		"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// FromValues はRedis Streamエントリのフィールドからイベントを復元する。
func FromValues(values map[string]any) (*Event, error) {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}

	createdAt, err := time.Parse(time.RFC3339Nano, str("created_at"))
	if err != nil {
		return nil, fmt.Errorf("created_atのパースに失敗: %w", err)
	}
	data := str("data")
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("dataが不正なJSONです: %q", data)
	}

	return &Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: AggregateType(str("aggregate_type")),
		EventType:     Type(str("event_type")),
		Data:          json.RawMessage(data),
		UserID:        str("user_id"),
		CreatedAt:     createdAt,
	}, nil
}
