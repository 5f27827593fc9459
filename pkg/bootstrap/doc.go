// Package bootstrap はサービスプロセスの起動から停止までを管理する。
//
// 起動は次の順で行う。どの段階の失敗も起動失敗として呼び出し元に返し、
// 部分的に起動した状態で動き続けることはない。
//
//  1. 設定の検証とディスカバリー（Redis）への接続確認（New）
//  2. データベースのオープンとマイグレーション適用（OpenDatabase）
//  3. リッスン開始、ディスカバリーへの登録、HTTPサーバーとハートビートの実行（Run）
//
// Runはctxがキャンセルされると登録を解除し、HTTPサーバーをグレースフルに停止する。
package bootstrap
