package db

import "time"

// User はGatewayが発行したトークンの利用者。
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
	LastLoginAt time.Time
}
