package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Lister はサービスのインスタンス一覧を返す。Registryが実装する。
type Lister interface {
	Instances(ctx context.Context, service string) ([]Instance, error)
}

// Resolver はサービス名から接続先のベースURLを解決する。
// 固定URLが設定されたサービスはレジストリを参照しない。
type Resolver struct {
	lister   Lister
	static   map[string]string
	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

// NewResolver は新しいResolverを生成する。
// staticにはサービス名から固定URLへの対応を指定する（nil可）。
func NewResolver(lister Lister, static map[string]string) *Resolver {
	s := make(map[string]string, len(static))
	for k, v := range static {
		s[k] = v
	}
	return &Resolver{
		lister:   lister,
		static:   s,
		counters: make(map[string]*atomic.Uint64),
	}
}

// Resolve は指定サービスの接続先ベースURLを返す。
// インスタンスが複数ある場合はラウンドロビンで選ぶ。
func (r *Resolver) Resolve(ctx context.Context, service string) (string, error) {
	if u, ok := r.static[service]; ok {
		return u, nil
	}
	if r.lister == nil {
		return "", fmt.Errorf("%s: %w", service, ErrNoInstances)
	}

	instances, err := r.lister.Instances(ctx, service)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("%s: %w", service, ErrNoInstances)
	}

	n := r.counter(service).Add(1) - 1
	return instances[n%uint64(len(instances))].URL(), nil
}

func (r *Resolver) counter(service string) *atomic.Uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[service]
	if !ok {
		c = &atomic.Uint64{}
		r.counters[service] = c
	}
	return c
}

// sortInstances はラウンドロビンの順序を安定させるためにIDで並べ替える。
func sortInstances(instances []Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
}
