// Package book は書籍カタログを管理するbook-serviceを実装する。
//
// 書籍の登録・更新・削除、在庫の貸出と返却、各種条件での検索を提供する。
// カテゴリIDの有効性はcategory-serviceに問い合わせて確認し、
// 変更はドメインイベントとしてRedis Streamに発行する。
package book
