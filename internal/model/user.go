// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPのコールバックから作成されるローカルユーザーを表す。
// ProviderUIDはIdPが発行する一意な識別子で、一度設定されたら変更しない。
// Name, Email, Imageは任意項目で、コールバックのたびに更新される。
type User struct {
	ID          string
	ProviderUID string
	Name        string
	Email       string
	Image       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
