package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authgate/internal/model"
)

// placeholderEmail はメールアドレスを開示しないプロバイダー向けの合成メールを返す。
// .invalidは予約TLDのため実在アドレスと衝突しない。
func placeholderEmail(provider model.Provider, providerID string) string {
	return fmt.Sprintf("%s@%s.invalid", providerID, provider)
}

// findOrCreateSocialUser はソーシャルプロフィールを既存アカウントに紐付けるか、
// 新規アカウントを作成する。解決順序:
//  1. (provider, provider_id)の完全一致
//  2. メールアドレス一致によるローカルアカウントへの紐付け
//  3. 新規作成
//
// 同一ソーシャルIDの同時初回ログインでは片方のINSERTが一意制約違反になるため、
// センチネルエラーを検出して再読込することで両方が同じアカウントに収束する。
func (s *Service) findOrCreateSocialUser(ctx context.Context, profile *Profile) (*model.User, error) {
	// 1. プロバイダー識別子で既存ユーザーを検索
	user, err := s.userRepo.FindByProviderID(ctx, profile.Provider, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}
	if user != nil {
		s.refreshProfile(ctx, user, profile)
		return user, nil
	}

	// 2. メールアドレス一致で既存アカウントへの紐付けを試みる
	if profile.Email != "" {
		user, err = s.userRepo.FindByEmail(ctx, model.NormalizeEmail(profile.Email))
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			if user.Provider != model.ProviderEmail {
				// 別のソーシャルプロバイダーで登録済み。自動統合はしない。
				return nil, model.NewProviderConflictError(user.Provider)
			}
			if err := s.userRepo.LinkProvider(ctx, user.ID, profile.Provider, profile.ProviderID, profile.EmailVerified); err != nil {
				if errors.Is(err, model.ErrDuplicateProviderID) {
					return s.rereadByProviderID(ctx, profile)
				}
				return nil, fmt.Errorf("failed to link provider: %w", err)
			}
			slog.Info("provider linked to existing account",
				slog.Int64("user_id", user.ID),
				slog.String("provider", string(profile.Provider)),
			)
			s.refreshProfile(ctx, user, profile)
			user.Provider = profile.Provider
			user.ProviderID = profile.ProviderID
			return user, nil
		}
	}

	// 3. 新規作成
	email := profile.Email
	if email == "" {
		email = placeholderEmail(profile.Provider, profile.ProviderID)
	}

	newUser := &model.User{
		Email:         model.NormalizeEmail(email),
		Name:          s.sanitizer.Sanitize(profile.Name),
		Provider:      profile.Provider,
		ProviderID:    profile.ProviderID,
		AvatarURL:     profile.AvatarURL,
		EmailVerified: profile.EmailVerified,
		Status:        model.StatusActive,
	}

	id, err := s.userRepo.Create(ctx, newUser)
	if err != nil {
		// 同時初回ログインの競合。勝者の作成したレコードを読み直す。
		if errors.Is(err, model.ErrDuplicateProviderID) || errors.Is(err, model.ErrDuplicateEmail) {
			return s.rereadByProviderID(ctx, profile)
		}
		return nil, fmt.Errorf("failed to create social user: %w", err)
	}

	newUser.ID = id
	slog.Info("new social user created",
		slog.Int64("user_id", id),
		slog.String("provider", string(profile.Provider)),
	)
	s.recordSignup(string(profile.Provider))
	return newUser, nil
}

// rereadByProviderID は一意制約違反の競合後にレコードを読み直す。
// 読み直しても見つからない場合は解決不能な状態として内部エラーを返す。
func (s *Service) rereadByProviderID(ctx context.Context, profile *Profile) (*model.User, error) {
	user, err := s.userRepo.FindByProviderID(ctx, profile.Provider, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read user after duplicate key: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found after duplicate key conflict: provider=%s", profile.Provider)
	}
	return user, nil
}

// refreshProfile はログインのたびに表示名とアバターをプロバイダーの最新値に同期する。
// ベストエフォートであり、失敗してもログイン全体は失敗させない。
func (s *Service) refreshProfile(ctx context.Context, user *model.User, profile *Profile) {
	name := s.sanitizer.Sanitize(profile.Name)
	if name == "" {
		name = user.Name
	}
	if name == user.Name && profile.AvatarURL == user.AvatarURL {
		return
	}
	if err := s.userRepo.RefreshSocialProfile(ctx, user.ID, name, profile.AvatarURL); err != nil {
		slog.Warn("failed to refresh social profile",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.Name = name
	user.AvatarURL = profile.AvatarURL
}
