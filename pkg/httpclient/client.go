package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Resolver はサービス名から接続先のベースURLを解決する。
// discovery.Resolverが実装する。
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// StatusError は接続先が2xx以外のステータスを返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// ErrCircuitOpen はサーキットブレーカーが開いているため送信しなかったことを表す。
var ErrCircuitOpen = errors.New("接続先への送信を一時停止しています")

// Client はサービス間通信用のHTTPクライアント。
// タイムアウトとリトライ、サーキットブレーカーの設定を持つ。
type Client struct {
	// httpClient は内部で使用するリトライ付きHTTPクライアント。
	httpClient *retryablehttp.Client
	// breaker は接続先ごとのサーキットブレーカー。
	breaker *gobreaker.CircuitBreaker
	// baseURL は接続先サービスの固定ベースURL。
	baseURL string
	// resolver は接続先をディスカバリーで解決する場合に使う。
	resolver Resolver
	// service はresolverで解決するサービス名。
	service string
}

// options はクライアント生成時の設定。
type options struct {
	timeout          time.Duration
	retryMax         int
	retryWaitMin     time.Duration
	retryWaitMax     time.Duration
	failureThreshold uint32
	openTimeout      time.Duration
	logger           *zap.Logger
}

// Option はクライアントの設定を変更する。
type Option func(*options)

// WithTimeout はリクエスト1回あたりのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry はリトライ回数と待ち時間の範囲を設定する。
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.retryMax = max
		o.retryWaitMin = waitMin
		o.retryWaitMax = waitMax
	}
}

// WithCircuitBreaker はサーキットブレーカーが開くまでの連続失敗回数と、
// 開いてから半開状態に移るまでの時間を設定する。
func WithCircuitBreaker(threshold uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.failureThreshold = threshold
		o.openTimeout = openTimeout
	}
}

// WithLogger はリトライ時のログ出力先を設定する。
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New は固定のベースURLに接続するクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://category:8082"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := newClient(baseURL, opts)
	c.baseURL = baseURL
	return c
}

// NewDiscovered はリクエストごとにディスカバリーで接続先を解決するクライアントを生成する。
func NewDiscovered(resolver Resolver, service string, opts ...Option) *Client {
	c := newClient(service, opts)
	c.resolver = resolver
	c.service = service
	return c
}

func newClient(name string, opts []Option) *Client {
	o := options{
		timeout:          30 * time.Second,
		retryMax:         3,
		retryWaitMin:     100 * time.Millisecond,
		retryWaitMax:     2 * time.Second,
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = o.timeout
	rc.RetryMax = o.retryMax
	rc.RetryWaitMin = o.retryWaitMin
	rc.RetryWaitMax = o.retryWaitMax
	rc.ErrorHandler = lastResponse
	if o.logger != nil {
		rc.Logger = leveledLogger{o.logger.Sugar()}
	} else {
		rc.Logger = nil
	}

	threshold := o.failureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Client{
		httpClient: rc,
		breaker:    breaker,
	}
}

// lastResponse はリトライを使い切った際に最後のレスポンスをそのまま返す。
// ステータスコードの判定は呼び出し側で行う。
func lastResponse(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// response はサーキットブレーカーの内側で読み切ったレスポンス。
type response struct {
	status int
	body   []byte
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var rawBody []byte
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		rawBody = jsonBody
	}

	baseURL, err := c.resolveBaseURL(ctx)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, baseURL+path, rawBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// コンテキストからユーザーIDと認証情報を伝播する
	if userID, ok := ctx.Value(contextKeyUserID).(string); ok && userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if auth, ok := ctx.Value(contextKeyAuthorization).(string); ok && auth != "" {
		req.Header.Set("Authorization", auth)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
		}
		r := &response{status: resp.StatusCode, body: respBody}
		// 5xxは接続先の障害として失敗に数える
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, &StatusError{StatusCode: r.status, Body: string(r.body)}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return err
	}

	r := out.(*response)
	if r.status < 200 || r.status >= 300 {
		return &StatusError{StatusCode: r.status, Body: string(r.body)}
	}

	if result != nil && len(r.body) > 0 {
		if err := json.Unmarshal(r.body, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// resolveBaseURL は接続先のベースURLを返す。
func (c *Client) resolveBaseURL(ctx context.Context) (string, error) {
	if c.resolver == nil {
		return c.baseURL, nil
	}
	u, err := c.resolver.Resolve(ctx, c.service)
	if err != nil {
		return "", fmt.Errorf("接続先の解決に失敗: %w", err)
	}
	return u, nil
}

// contextKey はコンテキストキーの型。
type contextKey string

const (
	// contextKeyUserID はコンテキストにユーザーIDを格納するためのキー。
	contextKeyUserID contextKey = "user_id"
	// contextKeyAuthorization はコンテキストにAuthorizationヘッダー値を格納するためのキー。
	contextKeyAuthorization contextKey = "authorization"
)

// WithUserID はコンテキストにユーザーIDを設定する。
// サービス間通信時にユーザーIDを伝播するために使用する。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// WithAuthorization はコンテキストにAuthorizationヘッダー値を設定する。
// 呼び出し元のJWTをそのまま接続先に転送するために使用する。
func WithAuthorization(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, authorization)
}

// leveledLogger はzapをretryablehttp.LeveledLoggerに適合させる。
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
