package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// 一意制約名。マイグレーションの定義と一致させること。
const (
	emailUniqueConstraint    = "users_email_key"
	providerUniqueConstraint = "users_provider_provider_id_key"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// ExistsByEmail は正規化済みメールアドレスのユーザーが存在するかどうかを返す。
func (r *PostgresUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`,
		model.NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// Create はユーザーを作成し、採番されたIDを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	now := time.Now()

	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}
	var providerID sql.NullString
	if user.ProviderID != "" {
		providerID = sql.NullString{String: user.ProviderID, Valid: true}
	}
	var avatarURL sql.NullString
	if user.AvatarURL != "" {
		avatarURL = sql.NullString{String: user.AvatarURL, Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, name, provider, provider_id, avatar_url,
		                    marketing_agree, email_verified, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 RETURNING id`,
		model.NormalizeEmail(user.Email), passwordHash, user.Name, string(user.Provider),
		providerID, avatarURL, user.MarketingAgree, user.EmailVerified,
		string(user.Status), now,
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case providerUniqueConstraint:
				return 0, model.ErrDuplicateProviderID
			default:
				return 0, model.ErrDuplicateEmail
			}
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
// password_hashを含む唯一の検索パス。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	var passwordHash, providerID, avatarURL sql.NullString
	var lastLoginAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name, provider, provider_id, avatar_url,
		        marketing_agree, email_verified, status, created_at, updated_at, last_login_at
		 FROM users WHERE email = $1`,
		model.NormalizeEmail(email),
	).Scan(&user.ID, &user.Email, &passwordHash, &user.Name, &user.Provider, &providerID,
		&avatarURL, &user.MarketingAgree, &user.EmailVerified, &user.Status,
		&user.CreatedAt, &user.UpdatedAt, &lastLoginAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.ProviderID = providerID.String
	user.AvatarURL = avatarURL.String
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// 公開プロジェクションのため、password_hashはSELECTしない。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	var providerID, avatarURL sql.NullString
	var lastLoginAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, provider, provider_id, avatar_url,
		        marketing_agree, email_verified, status, created_at, updated_at, last_login_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Provider, &providerID,
		&avatarURL, &user.MarketingAgree, &user.EmailVerified, &user.Status,
		&user.CreatedAt, &user.UpdatedAt, &lastLoginAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.ProviderID = providerID.String
	user.AvatarURL = avatarURL.String
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	return user, nil
}

// FindByProviderID は(provider, provider_id)でユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderID(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
	user := &model.User{}
	var pid, avatarURL sql.NullString
	var lastLoginAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, provider, provider_id, avatar_url,
		        marketing_agree, email_verified, status, created_at, updated_at, last_login_at
		 FROM users WHERE provider = $1 AND provider_id = $2`,
		string(provider), providerID,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Provider, &pid,
		&avatarURL, &user.MarketingAgree, &user.EmailVerified, &user.Status,
		&user.CreatedAt, &user.UpdatedAt, &lastLoginAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}

	user.ProviderID = pid.String
	user.AvatarURL = avatarURL.String
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	return user, nil
}

// LinkProvider は既存ユーザーにソーシャルプロバイダーの識別子を紐付ける。
func (r *PostgresUserRepo) LinkProvider(ctx context.Context, id int64, provider model.Provider, providerID string, emailVerified bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET provider = $1, provider_id = $2, email_verified = email_verified OR $3, updated_at = now()
		 WHERE id = $4`,
		string(provider), providerID, emailVerified, id,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return model.ErrDuplicateProviderID
		}
		return fmt.Errorf("failed to link provider: %w", err)
	}
	return nil
}

// RefreshSocialProfile はソーシャルログイン時に表示名とアバターを更新する。
// メールアドレスは変更しない。
func (r *PostgresUserRepo) RefreshSocialProfile(ctx context.Context, id int64, name, avatarURL string) error {
	var avatar sql.NullString
	if avatarURL != "" {
		avatar = sql.NullString{String: avatarURL, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $1, avatar_url = $2, updated_at = now() WHERE id = $3`,
		name, avatar, id,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh social profile: %w", err)
	}
	return nil
}

// UpdateProfile は指定されたフィールドのみを部分更新する。
// SET句はパッチの内容から動的に構築し、updated_atは常に更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id int64, patch *model.ProfilePatch) error {
	if patch == nil || patch.IsEmpty() {
		return model.NewValidationError("更新するフィールドが指定されていません。")
	}

	var sets []string
	var args []any

	if patch.Name.Set {
		args = append(args, patch.Name.Value)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if patch.AvatarURL.Set {
		if patch.AvatarURL.Valid {
			args = append(args, patch.AvatarURL.Value)
			sets = append(sets, fmt.Sprintf("avatar_url = $%d", len(args)))
		} else {
			// 明示的null: アバターをクリアする
			sets = append(sets, "avatar_url = NULL")
		}
	}
	if patch.MarketingAgree.Set {
		args = append(args, patch.MarketingAgree.Value)
		sets = append(sets, fmt.Sprintf("marketing_agree = $%d", len(args)))
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// UpdateStatus はアカウント状態を更新する。
func (r *PostgresUserRepo) UpdateStatus(ctx context.Context, id int64, status model.UserStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// TouchLastLogin は最終ログイン日時を現在時刻に更新する。
func (r *PostgresUserRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last login: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
