package book

// Status は書籍の販売・貸出ステータス。
type Status string

const (
	// StatusAvailable は貸出可能。
	StatusAvailable Status = "AVAILABLE"
	// StatusUnavailable は一時的に貸出停止中。
	StatusUnavailable Status = "UNAVAILABLE"
	// StatusDiscontinued は取り扱い終了。
	StatusDiscontinued Status = "DISCONTINUED"
)

// Valid はステータスが定義済みの値であるかを返す。
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusUnavailable, StatusDiscontinued:
		return true
	}
	return false
}
