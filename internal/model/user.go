// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Provider は認証手段の由来を表す。
type Provider string

const (
	// ProviderEmail はメールアドレス＋パスワードによるローカル登録を示す。
	ProviderEmail Provider = "email"
	// ProviderGoogle はGoogleソーシャルログインを示す。
	ProviderGoogle Provider = "google"
	// ProviderKakao はKakaoソーシャルログインを示す。
	ProviderKakao Provider = "kakao"
	// ProviderNaver はNaverソーシャルログインを示す。
	ProviderNaver Provider = "naver"
)

// UserStatus はアカウントの状態を表す。
type UserStatus string

const (
	// StatusActive は有効なアカウントを示す。
	StatusActive UserStatus = "active"
	// StatusSuspended は停止中のアカウントを示す。退会もこの状態で表現する。
	StatusSuspended UserStatus = "suspended"
)

// User はサービス利用ユーザーを表す。
// PasswordHashはログイン検証パス（FindByEmail）でのみ取得され、
// ID検索の公開プロジェクションには含まれない。
type User struct {
	ID             int64
	Email          string
	PasswordHash   string // ソーシャル専用アカウントでは空
	Name           string
	Provider       Provider
	ProviderID     string // ローカル登録では空
	AvatarURL      string
	MarketingAgree bool
	EmailVerified  bool
	Status         UserStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
}

// HasPassword はパスワード認証が可能なアカウントかどうかを返す。
// パスワード資格情報を持たないユーザーはパスワードログイン不可。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsActive はアカウントが有効かどうかを返す。
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// Session はユーザーのログインセッションを表す。
// IDはクライアントに渡される不透明なベアラートークン。
// Tokenはストレージ制約上必要な第二の一意値で、外部には公開しない。
type Session struct {
	ID        string
	UserID    int64
	Token     string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// IsExpired はセッションが期限切れかどうかを返す。
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.After(time.Now())
}

// NormalizeEmail はメールアドレスを正規化する（前後空白除去＋小文字化）。
// すべての書き込みと検索の前に適用することで、大文字小文字違いの重複を防ぐ。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
