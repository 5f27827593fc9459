// Package discovery はRedisを用いたサービスディスカバリーを提供する。
//
// 各サービスインスタンスは起動時に自身のアドレスをTTL付きのキーとして登録し、
// ハートビートでTTLを延長し続ける。停止時には登録を削除する。プロセスが
// 異常終了した場合でも、TTLの経過によって登録は自動的に消える。
//
// キー構成:
//   - discovery:<service>:<instance-id> インスタンス情報（JSON、TTL付き）
//   - discovery:<service>               インスタンスIDの集合（索引）
//
// 他サービスの呼び出し側はResolverを使い、登録済みインスタンスの中から
// ラウンドロビンで接続先を選ぶ。
package discovery
