// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 開発用JWTの発行と、書籍・カテゴリAPIへのリクエスト転送を担当する。
// 転送先はサービスディスカバリーで解決し、複数インスタンスには
// ラウンドロビンで振り分ける。外部から到達できる唯一の入口として
// CORSとレート制限を適用する。
package gateway
