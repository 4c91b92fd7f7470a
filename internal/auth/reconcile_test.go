package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/authgate/internal/model"
)

// mockOAuthProvider はOAuthProviderのテスト用モック。
type mockOAuthProvider struct {
	name           model.Provider
	exchangeCodeFn func(ctx context.Context, code, state string) (*Profile, error)
	exchangeCalls  int
}

func (m *mockOAuthProvider) Name() model.Provider {
	return m.name
}

func (m *mockOAuthProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code, state string) (*Profile, error) {
	m.exchangeCalls++
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, state)
	}
	return nil, errors.New("exchangeCodeFn not set")
}

// TestService_BeginOAuth は認可URL生成とstate発行を検証する。
func TestService_BeginOAuth(t *testing.T) {
	provider := &mockOAuthProvider{name: model.ProviderGoogle}
	svc := newTestService(&mockUserRepo{}, &mockSessionRepo{}, provider)

	authURL, state, err := svc.BeginOAuth("google")
	if err != nil {
		t.Fatalf("BeginOAuth() error = %v", err)
	}
	if state == "" {
		t.Error("expected non-empty state")
	}
	if authURL != "https://provider.example.com/authorize?state="+state {
		t.Errorf("authURL = %q does not embed the issued state", authURL)
	}
}

// TestService_BeginOAuth_UnknownProvider は未設定プロバイダーが400になることを検証する。
func TestService_BeginOAuth_UnknownProvider(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockSessionRepo{})

	_, _, err := svc.BeginOAuth("github")
	assertAPIError(t, err, model.ErrCodeValidation, 400)
}

// TestService_HandleCallback_StateMismatch はstate不一致の場合に
// コード交換を一切行わずに400を返すことを検証する。
func TestService_HandleCallback_StateMismatch(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		cookieState string
	}{
		{"state不一致", "abc", "def"},
		{"クエリのstateが空", "", "def"},
		{"Cookieのstateが空", "abc", ""},
		{"両方空", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockOAuthProvider{name: model.ProviderGoogle}
			svc := newTestService(&mockUserRepo{}, &mockSessionRepo{}, provider)

			_, _, err := svc.HandleCallback(context.Background(), CallbackInput{
				Provider:    "google",
				Code:        "some-code",
				State:       tt.state,
				CookieState: tt.cookieState,
			})
			assertAPIError(t, err, model.ErrCodeStateMismatch, 400)

			if provider.exchangeCalls != 0 {
				t.Errorf("ExchangeCode called %d times, want 0", provider.exchangeCalls)
			}
		})
	}
}

// TestService_HandleCallback_ProviderError はプロバイダー通信失敗が502になることを検証する。
func TestService_HandleCallback_ProviderError(t *testing.T) {
	provider := &mockOAuthProvider{
		name: model.ProviderGoogle,
		exchangeCodeFn: func(ctx context.Context, code, state string) (*Profile, error) {
			return nil, errors.New("token endpoint returned 500")
		},
	}
	svc := newTestService(&mockUserRepo{}, &mockSessionRepo{}, provider)

	_, _, err := svc.HandleCallback(context.Background(), CallbackInput{
		Provider:    "google",
		Code:        "some-code",
		State:       "same-state",
		CookieState: "same-state",
	})
	assertAPIError(t, err, model.ErrCodeProviderError, 502)
}

// googleProfile はテスト用の正規化済みプロフィールを返すプロバイダーを生成する。
func googleProfile(profile *Profile) *mockOAuthProvider {
	return &mockOAuthProvider{
		name: model.ProviderGoogle,
		exchangeCodeFn: func(ctx context.Context, code, state string) (*Profile, error) {
			return profile, nil
		},
	}
}

func callbackInput() CallbackInput {
	return CallbackInput{
		Provider:    "google",
		Code:        "some-code",
		State:       "same-state",
		CookieState: "same-state",
	}
}

// TestService_HandleCallback_ExistingSocialUser はプロバイダー識別子で
// 既存ユーザーが見つかる場合に新規作成しないことを検証する。
func TestService_HandleCallback_ExistingSocialUser(t *testing.T) {
	existing := &model.User{
		ID:         20,
		Email:      "taro@example.com",
		Name:       "taro",
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Status:     model.StatusActive,
	}

	created := false
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
			if provider == model.ProviderGoogle && providerID == "google-sub-1" {
				return existing, nil
			}
			return nil, nil
		},
		createFn: func(ctx context.Context, user *model.User) (int64, error) {
			created = true
			return 99, nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Email:      "taro@example.com",
		Name:       "taro",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, session, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.ID != 20 {
		t.Errorf("user.ID = %d, want 20", user.ID)
	}
	if created {
		t.Error("existing user should not trigger a create")
	}
	if session == nil {
		t.Fatal("expected a session to be issued")
	}
}

// TestService_HandleCallback_RefreshesProfile はログインのたびに表示名と
// アバターがプロバイダーの最新値に同期されることを検証する。
func TestService_HandleCallback_RefreshesProfile(t *testing.T) {
	existing := &model.User{
		ID:         20,
		Name:       "old-name",
		AvatarURL:  "https://img.example.com/old.png",
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Status:     model.StatusActive,
	}

	var refreshedName, refreshedAvatar string
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
			return existing, nil
		},
		refreshSocialProfileFn: func(ctx context.Context, id int64, name, avatarURL string) error {
			refreshedName = name
			refreshedAvatar = avatarURL
			return nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Name:       "new-name",
		AvatarURL:  "https://img.example.com/new.png",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, _, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if refreshedName != "new-name" || refreshedAvatar != "https://img.example.com/new.png" {
		t.Errorf("refreshed profile = (%q, %q), want latest provider values", refreshedName, refreshedAvatar)
	}
	if user.Name != "new-name" {
		t.Errorf("user.Name = %q, want %q", user.Name, "new-name")
	}
}

// TestService_HandleCallback_LinksLocalAccount はメールアドレス一致の
// ローカルアカウントにプロバイダーが紐付けられることを検証する。
func TestService_HandleCallback_LinksLocalAccount(t *testing.T) {
	local := &model.User{
		ID:       30,
		Email:    "taro@example.com",
		Name:     "taro",
		Provider: model.ProviderEmail,
		Status:   model.StatusActive,
	}

	linked := false
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == "taro@example.com" {
				return local, nil
			}
			return nil, nil
		},
		linkProviderFn: func(ctx context.Context, id int64, provider model.Provider, providerID string, emailVerified bool) error {
			if id != 30 || provider != model.ProviderGoogle || providerID != "google-sub-1" {
				t.Errorf("LinkProvider(%d, %s, %s), want (30, google, google-sub-1)", id, provider, providerID)
			}
			if !emailVerified {
				t.Error("emailVerified should be propagated")
			}
			linked = true
			return nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:      model.ProviderGoogle,
		ProviderID:    "google-sub-1",
		Email:         "Taro@Example.com",
		Name:          "taro",
		EmailVerified: true,
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, _, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if !linked {
		t.Error("expected provider to be linked to the local account")
	}
	if user.Provider != model.ProviderGoogle || user.ProviderID != "google-sub-1" {
		t.Errorf("user provider identity = (%s, %s), want linked values", user.Provider, user.ProviderID)
	}
}

// TestService_HandleCallback_ProviderConflict は別のソーシャルプロバイダーで
// 登録済みのメールアドレスが403になることを検証する。
func TestService_HandleCallback_ProviderConflict(t *testing.T) {
	kakaoUser := &model.User{
		ID:       40,
		Email:    "taro@example.com",
		Provider: model.ProviderKakao,
		Status:   model.StatusActive,
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return kakaoUser, nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Email:      "taro@example.com",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	_, _, err := svc.HandleCallback(context.Background(), callbackInput())
	apiErr := assertAPIError(t, err, model.ErrCodeProviderConflict, 403)
	if apiErr.Provider != model.ProviderKakao {
		t.Errorf("provider = %s, want %s", apiErr.Provider, model.ProviderKakao)
	}
}

// TestService_HandleCallback_CreatesNewUser は初回ソーシャルログインで
// 新規アカウントが作成されることを検証する。
func TestService_HandleCallback_CreatesNewUser(t *testing.T) {
	var createdUser *model.User
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) (int64, error) {
			createdUser = user
			return 50, nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:      model.ProviderGoogle,
		ProviderID:    "google-sub-1",
		Email:         "new@example.com",
		Name:          "shinki",
		AvatarURL:     "https://img.example.com/a.png",
		EmailVerified: true,
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, session, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.ID != 50 {
		t.Errorf("user.ID = %d, want 50", user.ID)
	}
	if createdUser.Email != "new@example.com" {
		t.Errorf("created email = %q", createdUser.Email)
	}
	if createdUser.Provider != model.ProviderGoogle || createdUser.ProviderID != "google-sub-1" {
		t.Errorf("created identity = (%s, %s)", createdUser.Provider, createdUser.ProviderID)
	}
	if !createdUser.EmailVerified {
		t.Error("emailVerified should be propagated")
	}
	if createdUser.HasPassword() {
		t.Error("social user must not carry a password hash")
	}
	if session == nil {
		t.Fatal("expected a session to be issued")
	}
}

// TestService_HandleCallback_PlaceholderEmail はメールアドレスを開示しない
// プロバイダーで合成メールアドレスが使われることを検証する。
func TestService_HandleCallback_PlaceholderEmail(t *testing.T) {
	var createdUser *model.User
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) (int64, error) {
			createdUser = user
			return 60, nil
		},
	}
	provider := &mockOAuthProvider{
		name: model.ProviderKakao,
		exchangeCodeFn: func(ctx context.Context, code, state string) (*Profile, error) {
			return &Profile{
				Provider:   model.ProviderKakao,
				ProviderID: "12345",
				Name:       "taro",
			}, nil
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	input := callbackInput()
	input.Provider = "kakao"
	if _, _, err := svc.HandleCallback(context.Background(), input); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if createdUser.Email != "12345@kakao.invalid" {
		t.Errorf("placeholder email = %q, want %q", createdUser.Email, "12345@kakao.invalid")
	}
	if createdUser.EmailVerified {
		t.Error("placeholder email must not be verified")
	}
}

// TestService_HandleCallback_ConcurrentFirstLogin は同時初回ログインの
// 一意制約競合で敗者が勝者のレコードに収束することを検証する。
func TestService_HandleCallback_ConcurrentFirstLogin(t *testing.T) {
	winner := &model.User{
		ID:         70,
		Email:      "race@example.com",
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-race",
		Status:     model.StatusActive,
	}

	lookups := 0
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
			lookups++
			// 初回検索では存在せず、INSERT競合後の再読込で勝者が見つかる
			if lookups == 1 {
				return nil, nil
			}
			return winner, nil
		},
		createFn: func(ctx context.Context, user *model.User) (int64, error) {
			return 0, model.ErrDuplicateProviderID
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-race",
		Email:      "race@example.com",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, _, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.ID != 70 {
		t.Errorf("user.ID = %d, want winner 70", user.ID)
	}
}

// TestService_HandleCallback_LinkConflictConverges はLinkProviderの一意制約競合でも
// 再読込で収束することを検証する。
func TestService_HandleCallback_LinkConflictConverges(t *testing.T) {
	local := &model.User{
		ID:       30,
		Email:    "taro@example.com",
		Provider: model.ProviderEmail,
		Status:   model.StatusActive,
	}
	winner := &model.User{
		ID:         31,
		Email:      "other@example.com",
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Status:     model.StatusActive,
	}

	lookups := 0
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
			lookups++
			if lookups == 1 {
				return nil, nil
			}
			return winner, nil
		},
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return local, nil
		},
		linkProviderFn: func(ctx context.Context, id int64, provider model.Provider, providerID string, emailVerified bool) error {
			return model.ErrDuplicateProviderID
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Email:      "taro@example.com",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	user, _, err := svc.HandleCallback(context.Background(), callbackInput())
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if user.ID != 31 {
		t.Errorf("user.ID = %d, want 31", user.ID)
	}
}

// TestService_HandleCallback_SuspendedUser は停止中アカウントのソーシャルログインが
// 403になることを検証する。
func TestService_HandleCallback_SuspendedUser(t *testing.T) {
	suspended := &model.User{
		ID:         80,
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
		Status:     model.StatusSuspended,
	}
	userRepo := &mockUserRepo{
		findByProviderIDFn: func(ctx context.Context, provider model.Provider, providerID string) (*model.User, error) {
			return suspended, nil
		},
	}
	provider := googleProfile(&Profile{
		Provider:   model.ProviderGoogle,
		ProviderID: "google-sub-1",
	})
	svc := newTestService(userRepo, &mockSessionRepo{}, provider)

	_, _, err := svc.HandleCallback(context.Background(), callbackInput())
	assertAPIError(t, err, model.ErrCodeAccountSuspended, 403)
}

// TestPlaceholderEmail は合成メールアドレスの形式を検証する。
func TestPlaceholderEmail(t *testing.T) {
	got := placeholderEmail(model.ProviderNaver, "abc-123")
	if got != "abc-123@naver.invalid" {
		t.Errorf("placeholderEmail() = %q, want %q", got, "abc-123@naver.invalid")
	}
}
