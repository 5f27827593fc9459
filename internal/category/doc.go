// Package category は書籍のカテゴリを管理するcategory-serviceを実装する。
//
// book-serviceは検証API（POST /api/v1/categories/validate）で
// カテゴリIDが存在し有効かどうかを確認する。
package category
