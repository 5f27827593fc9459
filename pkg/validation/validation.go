// Package validation はGinのリクエストバインディングで使う独自の検証ルールを登録する。
package validation

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// isbnPattern は10桁または13桁の数字からなるISBN。
var isbnPattern = regexp.MustCompile(`^\d{10}(\d{3})?$`)

var registerOnce sync.Once

// Register はGinのバリデータに以下のタグを登録する。複数回呼んでも安全。
//
//   - notblank: 空白文字以外を1文字以上含む
//   - isbn_digits: 10桁または13桁の数字
func Register() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("notblank", validators.NotBlank)
		_ = v.RegisterValidation("isbn_digits", ISBN)
	})
}

// ISBN はフィールドが10桁または13桁の数字であることを検証する。
func ISBN(fl validator.FieldLevel) bool {
	return IsISBN(fl.Field().String())
}

// IsISBN はsが10桁または13桁の数字であるかを返す。
func IsISBN(s string) bool {
	return isbnPattern.MatchString(s)
}
