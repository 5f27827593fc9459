package book

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	errPriceNotPositive = errors.New("価格は0より大きくなければなりません")
	errPriceFormat      = errors.New("価格の形式が不正です（整数部10桁以内、小数部2桁以内）")

	// maxPrice は整数部10桁に収まらない最小の値。
	maxPrice = decimal.New(1, 10)
)

// validatePrice は価格が正で、整数部10桁以内かつ小数部2桁以内であることを検証する。
func validatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return errPriceNotPositive
	}
	if !p.Equal(p.Truncate(2)) || p.GreaterThanOrEqual(maxPrice) {
		return errPriceFormat
	}
	return nil
}

// toCents は価格をセント単位の整数に変換する。validatePrice済みであること。
func toCents(p decimal.Decimal) int64 {
	return p.Shift(2).IntPart()
}

// fromCents はセント単位の整数をJSONの数値表現に変換する。
func fromCents(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

// priceBoundCents は検索条件の価格をセント単位に変換する。
// 有効な価格の範囲外の値は範囲の端に丸める。roundUpがtrueなら端数を切り上げる。
func priceBoundCents(p decimal.Decimal, roundUp bool) int64 {
	switch {
	case p.IsNegative():
		return 0
	case p.GreaterThanOrEqual(maxPrice):
		return maxPrice.Shift(2).IntPart()
	}
	if roundUp {
		return p.Shift(2).Ceil().IntPart()
	}
	return p.Shift(2).Floor().IntPart()
}
