// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authgate/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// メールアドレスはすべての書き込みと検索の前にリポジトリ内部で正規化される。
type UserRepository interface {
	// ExistsByEmail は正規化済みメールアドレスのユーザーが存在するかどうかを返す。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Create はユーザーを作成し、採番されたIDを返す。
	// email一意制約違反はmodel.ErrDuplicateEmail、
	// (provider, provider_id)一意制約違反はmodel.ErrDuplicateProviderIDとして返す。
	Create(ctx context.Context, user *model.User) (int64, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// パスワードログイン検証専用パスのため、password_hashを含むプロジェクションを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// 公開プロジェクションのため、password_hashは含まれない。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByProviderID は(provider, provider_id)でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.User, error)

	// LinkProvider は既存ユーザーにソーシャルプロバイダーの識別子を紐付ける。
	LinkProvider(ctx context.Context, id int64, provider model.Provider, providerID string, emailVerified bool) error

	// RefreshSocialProfile はソーシャルログイン時に表示名とアバターを更新する。
	// メールアドレスは変更しない。
	RefreshSocialProfile(ctx context.Context, id int64, name, avatarURL string) error

	// UpdateProfile は指定されたフィールドのみを部分更新する。
	// updated_atは常に更新される。空のパッチはエラー。
	UpdateProfile(ctx context.Context, id int64, patch *model.ProfilePatch) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	// UpdateStatus はアカウント状態を更新する。
	UpdateStatus(ctx context.Context, id int64, status model.UserStatus) error

	// TouchLastLogin は最終ログイン日時を現在時刻に更新する。
	// 呼び出し元でベストエフォートとして扱う（失敗してもログイン全体は失敗させない）。
	TouchLastLogin(ctx context.Context, id int64) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しないIDの削除はエラーではない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	// パスワード変更などのセキュリティイベントで使用するため、失敗はエラーとして伝播する。
	DeleteByUserID(ctx context.Context, userID int64) error
}
