package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

const (
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 8
	// maxNameLength は表示名の最大文字数。
	maxNameLength = 100
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL         time.Duration // 通常セッションの有効期間
	ExtendedSessionTTL time.Duration // ログイン維持選択時の有効期間
}

// Service は認証に関するビジネスロジックを提供する。
// すべての公開オペレーションはリポジトリ層の生のエラーを
// model.APIErrorのタクソノミーに変換してから返す。
type Service struct {
	providers   map[model.Provider]OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      *password.Hasher
	sanitizer   security.NameSanitizerService
	collector   metrics.MetricsCollector
	config      ServiceConfig
}

// NewService はServiceを生成する。collectorはnil可（メトリクス無効）。
func NewService(
	providers []OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher *password.Hasher,
	sanitizer security.NameSanitizerService,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	providerMap := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		providerMap[p.Name()] = p
	}
	return &Service{
		providers:   providerMap,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		sanitizer:   sanitizer,
		collector:   collector,
		config:      config,
	}
}

// SignupInput は新規登録の入力。
type SignupInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	Name            string
	MarketingAgree  bool
	IPAddress       string
	UserAgent       string
}

// Signup はメールアドレスとパスワードで新規アカウントを作成し、セッションを発行する。
// 確認用パスワードの不一致と重複メールアドレスはストアに触れる前に拒否する。
func (s *Service) Signup(ctx context.Context, input SignupInput) (*model.User, *model.Session, error) {
	if err := validateEmail(input.Email); err != nil {
		return nil, nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}
	if input.Password != input.PasswordConfirm {
		return nil, nil, model.NewValidationError("パスワードと確認用パスワードが一致しません。")
	}
	name := s.sanitizer.Sanitize(input.Name)
	if err := validateName(name); err != nil {
		return nil, nil, err
	}

	// ハッシュ計算の前に重複を検出する。同時登録の競合はCreateの一意制約で拾う。
	exists, err := s.userRepo.ExistsByEmail(ctx, model.NormalizeEmail(input.Email))
	if err != nil {
		slog.Error("failed to check email existence", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}
	if exists {
		return nil, nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		slog.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}

	user := &model.User{
		Email:          model.NormalizeEmail(input.Email),
		PasswordHash:   hash,
		Name:           name,
		Provider:       model.ProviderEmail,
		MarketingAgree: input.MarketingAgree,
		Status:         model.StatusActive,
	}

	id, err := s.userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, nil, model.NewDuplicateEmailError()
		}
		slog.Error("failed to create user", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}
	user.ID = id

	slog.Info("user signed up",
		slog.Int64("user_id", id),
		slog.String("email", user.Email),
	)
	s.recordSignup(string(model.ProviderEmail))

	session, err := s.issueSession(ctx, id, false, input.IPAddress, input.UserAgent)
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}
	// 公開プロジェクションに合わせて削る
	user.PasswordHash = ""
	return user, session, nil
}

// LoginInput はパスワードログインの入力。
type LoginInput struct {
	Email     string
	Password  string
	KeepLogin bool // trueで長期セッション
	IPAddress string
	UserAgent string
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) Login(ctx context.Context, input LoginInput) (*model.User, *model.Session, error) {
	if input.Email == "" || input.Password == "" {
		return nil, nil, model.NewValidationError("メールアドレスとパスワードを入力してください。")
	}

	user, err := s.userRepo.FindByEmail(ctx, model.NormalizeEmail(input.Email))
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}
	if user == nil {
		// 未登録の場合は登録への誘導を優先して具体的に伝える
		s.recordLoginFailure("not_found")
		return nil, nil, model.NewAccountNotFoundError()
	}
	if !user.HasPassword() {
		// ソーシャル登録のみのアカウント。元のプロバイダーを案内する。
		s.recordLoginFailure("social_only")
		return nil, nil, model.NewSocialOnlyAccountError(user.Provider)
	}
	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		s.recordLoginFailure("bad_password")
		return nil, nil, model.NewAuthFailedError()
	}
	if !user.IsActive() {
		s.recordLoginFailure("suspended")
		return nil, nil, model.NewAccountSuspendedError()
	}

	// ベストエフォート。失敗してもログインは成立させる。
	if err := s.userRepo.TouchLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to touch last login",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	session, err := s.issueSession(ctx, user.ID, input.KeepLogin, input.IPAddress, input.UserAgent)
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	s.recordLoginSuccess()

	user.PasswordHash = ""
	return user, session, nil
}

// BeginOAuth は指定プロバイダーの認可URLとstate値を生成する。
func (s *Service) BeginOAuth(providerName string) (authURL, state string, err error) {
	provider, ok := s.providers[model.Provider(providerName)]
	if !ok {
		return "", "", model.NewValidationError("サポートされていないログインプロバイダーです。")
	}
	state, err = GenerateState()
	if err != nil {
		slog.Error("failed to generate state", slog.String("error", err.Error()))
		return "", "", model.NewInternalError()
	}
	return provider.AuthCodeURL(state), state, nil
}

// CallbackInput はOAuthコールバック処理の入力。
type CallbackInput struct {
	Provider    string
	Code        string
	State       string // コールバックのクエリパラメータ
	CookieState string // リダイレクト前に発行したCookieの値
	IPAddress   string
	UserAgent   string
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// state検証はコード交換より前に行い、不一致の場合プロバイダーとは一切通信しない。
func (s *Service) HandleCallback(ctx context.Context, input CallbackInput) (*model.User, *model.Session, error) {
	provider, ok := s.providers[model.Provider(input.Provider)]
	if !ok {
		return nil, nil, model.NewValidationError("サポートされていないログインプロバイダーです。")
	}

	if input.State == "" || input.CookieState == "" ||
		subtle.ConstantTimeCompare([]byte(input.State), []byte(input.CookieState)) != 1 {
		s.recordOAuthCallback(input.Provider, "state_mismatch")
		return nil, nil, model.NewStateMismatchError()
	}

	profile, err := provider.ExchangeCode(ctx, input.Code, input.State)
	if err != nil {
		slog.Error("oauth code exchange failed",
			slog.String("provider", input.Provider),
			slog.String("error", err.Error()),
		)
		s.recordOAuthCallback(input.Provider, "provider_error")
		return nil, nil, model.NewProviderErrorError()
	}

	user, err := s.findOrCreateSocialUser(ctx, profile)
	if err != nil {
		if apiErr, ok := err.(*model.APIError); ok {
			s.recordOAuthCallback(input.Provider, "conflict")
			return nil, nil, apiErr
		}
		slog.Error("failed to reconcile social user",
			slog.String("provider", input.Provider),
			slog.String("error", err.Error()),
		)
		s.recordOAuthCallback(input.Provider, "error")
		return nil, nil, model.NewInternalError()
	}

	if !user.IsActive() {
		s.recordOAuthCallback(input.Provider, "suspended")
		return nil, nil, model.NewAccountSuspendedError()
	}

	if err := s.userRepo.TouchLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to touch last login",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	session, err := s.issueSession(ctx, user.ID, true, input.IPAddress, input.UserAgent)
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		return nil, nil, model.NewInternalError()
	}

	slog.Info("social login succeeded",
		slog.Int64("user_id", user.ID),
		slog.String("provider", input.Provider),
	)
	s.recordOAuthCallback(input.Provider, "success")

	user.PasswordHash = ""
	return user, session, nil
}

// VerifySession はセッションIDを検証し、対応するユーザーを返す。
// セッションが存在しない・期限切れ・ユーザーが無効の場合はnilを返す（エラーではない）。
// エラーはインフラ障害のみ。
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		s.recordSessionVerification("missing")
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		s.recordSessionVerification("invalid")
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive() {
		s.recordSessionVerification("inactive_user")
		return nil, nil
	}

	s.recordSessionVerification("ok")
	return user, nil
}

// Logout はセッションを破棄する。存在しないセッションIDに対しても成功する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Error("failed to delete session", slog.String("error", err.Error()))
		return model.NewInternalError()
	}
	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// UpdateProfile はプロフィールを部分更新し、更新後のユーザーを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID int64, patch *model.ProfilePatch) (*model.User, error) {
	if patch == nil || patch.IsEmpty() {
		return nil, model.NewValidationError("更新するフィールドが指定されていません。")
	}
	if patch.Name.Set {
		if !patch.Name.Valid {
			return nil, model.NewValidationError("表示名は削除できません。")
		}
		patch.Name.Value = s.sanitizer.Sanitize(patch.Name.Value)
		if err := validateName(patch.Name.Value); err != nil {
			return nil, err
		}
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, patch); err != nil {
		if apiErr, ok := err.(*model.APIError); ok {
			return nil, apiErr
		}
		slog.Error("failed to update profile",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to reload user", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ChangePassword は現在のパスワードを検証した上で新しいパスワードに変更する。
// 変更成功時は全セッションを失効させ、新しいセッションを発行して返す。
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword, ipAddress, userAgent string) (*model.Session, error) {
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	// password_hashはFindByEmailのプロジェクションからのみ取得できる
	withHash, err := s.userRepo.FindByEmail(ctx, user.Email)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if withHash == nil || !withHash.HasPassword() {
		return nil, model.NewSocialOnlyAccountError(user.Provider)
	}
	if !s.hasher.Verify(currentPassword, withHash.PasswordHash) {
		return nil, model.NewAuthFailedError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		slog.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		if apiErr, ok := err.(*model.APIError); ok {
			return nil, apiErr
		}
		slog.Error("failed to update password", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	// セキュリティイベントのため全セッションを失効させる。
	// ここでの失敗は無視できない（古いセッションが生き残るため）。
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		slog.Error("failed to revoke sessions after password change",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	session, err := s.issueSession(ctx, userID, false, ipAddress, userAgent)
	if err != nil {
		slog.Error("failed to issue session", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	slog.Info("password changed", slog.Int64("user_id", userID))
	return session, nil
}

// Deactivate はアカウントを停止状態にし、全セッションを失効させる。
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	if err := s.userRepo.UpdateStatus(ctx, userID, model.StatusSuspended); err != nil {
		slog.Error("failed to suspend account", slog.String("error", err.Error()))
		return model.NewInternalError()
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		slog.Error("failed to revoke sessions after deactivation",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError()
	}
	slog.Info("account deactivated", slog.Int64("user_id", userID))
	return nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// SessionTTL はkeepLoginに応じたセッション有効期間を返す。
// Cookie Max-Ageの算出にも使用する。
func (s *Service) SessionTTL(keepLogin bool) time.Duration {
	if keepLogin {
		return s.config.ExtendedSessionTTL
	}
	return s.config.SessionTTL
}

// issueSession は新しいセッションを作成し永続化する。
func (s *Service) issueSession(ctx context.Context, userID int64, keepLogin bool, ipAddress, userAgent string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(s.SessionTTL(keepLogin)),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateEmail(email string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.NewValidationError("メールアドレスを入力してください。")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	return nil
}

func validatePassword(plaintext string) error {
	if len(plaintext) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください。", minPasswordLength))
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return model.NewValidationError("表示名を入力してください。")
	}
	if len([]rune(name)) > maxNameLength {
		return model.NewValidationError(fmt.Sprintf("表示名は%d文字以内で入力してください。", maxNameLength))
	}
	return nil
}

// メトリクスはnil許容。未設定の場合は何もしない。

func (s *Service) recordSignup(provider string) {
	if s.collector != nil {
		s.collector.RecordSignup(provider)
	}
}

func (s *Service) recordLoginSuccess() {
	if s.collector != nil {
		s.collector.RecordLoginSuccess()
	}
}

func (s *Service) recordLoginFailure(reason string) {
	if s.collector != nil {
		s.collector.RecordLoginFailure(reason)
	}
}

func (s *Service) recordOAuthCallback(provider, result string) {
	if s.collector != nil {
		s.collector.RecordOAuthCallback(provider, result)
	}
}

func (s *Service) recordSessionVerification(result string) {
	if s.collector != nil {
		s.collector.RecordSessionVerification(result)
	}
}
