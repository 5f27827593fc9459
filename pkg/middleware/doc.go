// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証とロールによる認可、リクエストログ、パニックリカバリ、
// CORS設定、メトリクス収集、レート制限など、全サービスで共通して使用する
// ミドルウェアを含む。
package middleware
