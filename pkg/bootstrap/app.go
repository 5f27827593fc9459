package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/bookshelf/pkg/config"
	"github.com/nao1215/bookshelf/pkg/database"
	"github.com/nao1215/bookshelf/pkg/discovery"
	"github.com/nao1215/bookshelf/pkg/event"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted はRunが2回以上呼ばれたことを表す。
var ErrAlreadyStarted = errors.New("サービスは既に起動済みです")

// App は1つのサービスプロセスを表す。
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	redis    *redis.Client
	registry *discovery.Registry
	resolver *discovery.Resolver
	db       *sql.DB

	state     atomic.Int32
	started   atomic.Bool
	ready     chan struct{}
	addr      atomic.Value
	closeOnce sync.Once
	metadata  map[string]string
}

// Option はAppの設定を変更する。
type Option func(*App)

// WithMetadata はディスカバリーに登録するインスタンスの付加情報を設定する。
func WithMetadata(md map[string]string) Option {
	return func(a *App) { a.metadata = md }
}

// New は設定を検証し、ディスカバリーのRedisに接続する。
// 接続できない場合やアドレスが不正な場合はエラーを返す。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.state.Store(int32(StateStarting))

	a.redis = redis.NewClient(&redis.Options{
		Addr:        cfg.Discovery.RedisAddr,
		Password:    cfg.Discovery.Password,
		DB:          cfg.Discovery.DB,
		DialTimeout: cfg.Discovery.ConnectTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.ConnectTimeout)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("ディスカバリー %s への接続に失敗: %w", cfg.Discovery.RedisAddr, err)
	}

	a.registry = discovery.NewRegistry(a.redis, cfg.Discovery.TTL, logger)
	a.resolver = discovery.NewResolver(a.registry, cfg.Services)

	logger.Info("ディスカバリーに接続しました", zap.String("redis_addr", cfg.Discovery.RedisAddr))
	return a, nil
}

// Config は検証済みの設定を返す。
func (a *App) Config() *config.Config { return a.cfg }

// Logger はサービスのロガーを返す。
func (a *App) Logger() *zap.Logger { return a.logger }

// Resolver は他サービスの接続先を解決するResolverを返す。
func (a *App) Resolver() *discovery.Resolver { return a.resolver }

// Publisher はドメインイベントの発行先を返す。
// イベント送信が無効な場合は何もしないPublisherを返す。
func (a *App) Publisher() event.Publisher {
	if !a.cfg.Events.Enabled {
		return event.Nop{}
	}
	return event.NewStreamPublisher(a.redis, a.cfg.Events.Stream, a.cfg.Events.MaxLen)
}

// OpenDatabase は設定されたパスのデータベースを開き、fsysのdir配下のマイグレーションを適用する。
// 開いた接続はRunの終了時またはClose時に閉じられる。
func (a *App) OpenDatabase(ctx context.Context, fsys fs.FS, dir string) (*sql.DB, error) {
	db, err := database.OpenAndMigrate(ctx, a.cfg.Database.Path, fsys, dir, a.logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// State は現在のライフサイクル状態を返す。
func (a *App) State() State {
	return State(a.state.Load())
}

// Ready はサービスが登録を終えリクエストを受け付け始めたときに閉じられるチャネルを返す。
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr は実際にリッスンしているアドレスを返す。Run開始前は空文字列。
func (a *App) Addr() string {
	if v, ok := a.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Run はリッスンを開始してディスカバリーに登録し、ctxがキャンセルされるまでhandlerでリクエストを処理する。
// リッスンまたは登録に失敗した場合はエラーを返す。戻る前に登録解除とリソースの解放を行う。
func (a *App) Run(ctx context.Context, handler http.Handler) error {
	if !a.started.CompareAndSwap(false, true) || a.State() != StateStarting {
		return ErrAlreadyStarted
	}
	defer a.Close()

	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("%s でのリッスンに失敗: %w", a.cfg.Addr(), err)
	}
	a.addr.Store(ln.Addr().String())

	inst, err := a.instance(ln.Addr())
	if err != nil {
		_ = ln.Close()
		return err
	}

	regCtx, cancel := context.WithTimeout(ctx, a.cfg.Discovery.ConnectTimeout)
	err = a.registry.Register(regCtx, inst)
	cancel()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("ディスカバリーへの登録に失敗: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーが異常終了しました: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.registry.Heartbeat(gctx, inst, a.cfg.Discovery.HeartbeatInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(srv, inst)
		return nil
	})

	a.state.Store(int32(StateRunning))
	close(a.ready)
	a.logger.Info("サービスを起動しました",
		zap.String("addr", ln.Addr().String()),
		zap.String("instance_id", inst.ID),
	)

	return g.Wait()
}

// shutdown は登録解除とHTTPサーバーの停止を行う。
func (a *App) shutdown(srv *http.Server, inst discovery.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.registry.Deregister(ctx, inst); err != nil {
		a.logger.Warn("ディスカバリーからの登録解除に失敗", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("HTTPサーバーのシャットダウンがタイムアウトしました", zap.Error(err))
	}
	a.logger.Info("サービスを停止しました")
}

// instance はリッスン中のアドレスからディスカバリー登録情報を組み立てる。
func (a *App) instance(addr net.Addr) (discovery.Instance, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return discovery.Instance{}, fmt.Errorf("TCPアドレスではありません: %s", addr)
	}

	host := a.cfg.Discovery.AdvertiseHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return discovery.Instance{}, fmt.Errorf("ホスト名の取得に失敗: %w", err)
		}
		host = h
	}

	inst := discovery.NewInstance(a.cfg.Service, host, tcp.Port)
	inst.Metadata = a.metadata
	return inst, nil
}

// Close はデータベースとRedisの接続を閉じ、状態をstoppedにする。複数回呼んでも安全。
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Warn("データベース接続のクローズに失敗", zap.Error(err))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("Redis接続のクローズに失敗", zap.Error(err))
			}
		}
		a.state.Store(int32(StateStopped))
	})
}
