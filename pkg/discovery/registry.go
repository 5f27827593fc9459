package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix はディスカバリー用キーのプレフィックス。
const keyPrefix = "discovery:"

// ErrNoInstances は指定サービスのインスタンスが1つも登録されていないことを表す。
var ErrNoInstances = errors.New("利用可能なインスタンスがありません")

// Instance はディスカバリーに登録されるサービスインスタンス。
type Instance struct {
	// ID はインスタンスの一意識別子。
	ID string `json:"id"`
	// Service はサービス名。
	Service string `json:"service"`
	// Host は他サービスから到達可能なホスト名またはIPアドレス。
	Host string `json:"host"`
	// Port はリッスンポート。
	Port int `json:"port"`
	// Scheme は "http" または "https"。
	Scheme string `json:"scheme"`
	// Metadata は任意の付加情報（バージョン等）。
	Metadata map[string]string `json:"metadata,omitempty"`
	// RegisteredAt は登録日時。
	RegisteredAt time.Time `json:"registered_at"`
}

// NewInstance は新しいIDを払い出したInstanceを生成する。
func NewInstance(service, host string, port int) Instance {
	return Instance{
		ID:      uuid.New().String(),
		Service: service,
		Host:    host,
		Port:    port,
		Scheme:  "http",
	}
}

// URL はインスタンスのベースURLを返す。
func (i Instance) URL() string {
	scheme := i.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Registry はRedis上のサービスレジストリ。
type Registry struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRegistry は新しいRegistryを生成する。
// ttlは登録情報の有効期限で、ハートビートの間隔より長くなければならない。
func NewRegistry(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func serviceKey(service string) string {
	return keyPrefix + service
}

func instanceKey(service, id string) string {
	return keyPrefix + service + ":" + id
}

// Register はインスタンスを登録する。
func (r *Registry) Register(ctx context.Context, inst Instance) error {
	if inst.ID == "" || inst.Service == "" {
		return errors.New("インスタンスIDとサービス名は必須です")
	}
	if inst.RegisteredAt.IsZero() {
		inst.RegisteredAt = time.Now().UTC()
	}

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("インスタンス情報のシリアライズに失敗: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, instanceKey(inst.Service, inst.ID), data, r.ttl)
		pipe.SAdd(ctx, serviceKey(inst.Service), inst.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("インスタンスの登録に失敗: %w", err)
	}

	r.logger.Info("ディスカバリーに登録しました",
		zap.String("target", inst.Service),
		zap.String("instance_id", inst.ID),
		zap.String("url", inst.URL()),
	)
	return nil
}

// Deregister はインスタンスの登録を削除する。
func (r *Registry) Deregister(ctx context.Context, inst Instance) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, instanceKey(inst.Service, inst.ID))
		pipe.SRem(ctx, serviceKey(inst.Service), inst.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("インスタンスの登録解除に失敗: %w", err)
	}

	r.logger.Info("ディスカバリーから登録解除しました",
		zap.String("target", inst.Service),
		zap.String("instance_id", inst.ID),
	)
	return nil
}

// Renew はインスタンスのTTLを延長する。
// キーが既に失効していた場合は登録し直す。
func (r *Registry) Renew(ctx context.Context, inst Instance) error {
	ok, err := r.client.Expire(ctx, instanceKey(inst.Service, inst.ID), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("TTLの延長に失敗: %w", err)
	}
	if !ok {
		r.logger.Warn("登録が失効していたため再登録します", zap.String("instance_id", inst.ID))
		return r.Register(ctx, inst)
	}
	return nil
}

// Heartbeat はintervalごとにRenewを呼び出す。
// ctxがキャンセルされるまでブロックし、nilを返す。
// 一時的な失敗はログに記録して次の周期で再試行する。
func (r *Registry) Heartbeat(ctx context.Context, inst Instance, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Renew(ctx, inst); err != nil && ctx.Err() == nil {
				r.logger.Error("ハートビートに失敗", zap.String("instance_id", inst.ID), zap.Error(err))
			}
		}
	}
}

// Instances は指定サービスの生存中のインスタンスを返す。
// 索引に残っている失効済みのIDは削除する。
func (r *Registry) Instances(ctx context.Context, service string) ([]Instance, error) {
	ids, err := r.client.SMembers(ctx, serviceKey(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("インスタンス一覧の取得に失敗: %w", err)
	}
	if len(ids) == 0 {
		return []Instance{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, instanceKey(service, id))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("インスタンス情報の取得に失敗: %w", err)
	}

	instances := make([]Instance, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var inst Instance
		if err := json.Unmarshal([]byte(s), &inst); err != nil {
			r.logger.Warn("インスタンス情報のデシリアライズに失敗", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, serviceKey(service), stale...).Err(); err != nil {
			r.logger.Warn("失効済みインスタンスの削除に失敗", zap.Error(err))
		}
	}

	sortInstances(instances)
	return instances, nil
}
