// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。接続先は固定の
// ベースURL、またはサービスディスカバリーでリクエストごとに解決したURLを
// 指定できる。一時的な障害はリトライし、連続して失敗する接続先は
// サーキットブレーカーで遮断する。
package httpclient
