package domain

import "time"

// ActiveSession はログインセッションを表す。
type ActiveSession struct {
	ID         string
	Username   string
	LogID      string
	LoginTime  time.Time
	LogoutTime *time.Time
	IsActive   bool
	Token      string
}
