package event

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher はドメインイベントを発行する。
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// StreamPublisher はRedis Streamにイベントを追記するPublisher。
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamPublisher はStreamPublisherを生成する。
// maxLenが正の場合、ストリームはおおよそその件数にトリムされる。
func NewStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish はイベントをストリームに追記する。
func (p *StreamPublisher) Publish(ctx context.Context, e *Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: e.Values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("イベント %s の発行に失敗: %w", e.EventType, err)
	}
	return nil
}

// Nop は何もしないPublisher。イベント発行が無効な場合に使う。
type Nop struct{}

// Publish は何もせずnilを返す。
func (Nop) Publish(context.Context, *Event) error { return nil }

// Emitter はイベントの生成と発行をまとめ、失敗をログに記録するだけで呼び出し元に返さない。
type Emitter struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewEmitter はEmitterを生成する。publisherがnilの場合はNopを使う。
func NewEmitter(publisher Publisher, logger *zap.Logger) *Emitter {
	if publisher == nil {
		publisher = Nop{}
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit はイベントを生成して発行する。
func (em *Emitter) Emit(ctx context.Context, aggregateID string, aggregateType AggregateType, eventType Type, userID string, data any) {
	e, err := New(aggregateID, aggregateType, eventType, userID, data)
	if err == nil {
		err = em.publisher.Publish(ctx, e)
	}
	if err != nil {
		em.logger.Warn("イベントの発行に失敗しました",
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}
