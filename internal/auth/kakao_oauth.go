package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	defaultKakaoAuthURL     = "https://kauth.kakao.com/oauth/authorize"
	defaultKakaoTokenURL    = "https://kauth.kakao.com/oauth/token"
	defaultKakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"
)

// KakaoOAuthConfig はKakao OAuthプロバイダーの設定。
type KakaoOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// KakaoOAuthProvider はKakao OAuth 2.0による認証を提供する。
// Kakaoはスコープ設定によってはメールアドレスを開示しないことがある。
// その場合Profile.Emailは空になり、リコンシリエーション側で
// プレースホルダーメールが合成される。
type KakaoOAuthProvider struct {
	config KakaoOAuthConfig
	client *http.Client
}

// NewKakaoOAuthProvider はKakaoOAuthProviderを生成する。
func NewKakaoOAuthProvider(config KakaoOAuthConfig, client *http.Client) *KakaoOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultKakaoAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultKakaoTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultKakaoUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &KakaoOAuthProvider{config: config, client: client}
}

// Name はプロバイダー識別子を返す。
func (p *KakaoOAuthProvider) Name() model.Provider {
	return model.ProviderKakao
}

// AuthCodeURL はKakao OAuthの認証URLを生成する。
func (p *KakaoOAuthProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// kakaoUserInfo はKakaoのユーザー情報エンドポイントのレスポンス。
// subject識別子はトップレベルのid（数値）で返る。
type kakaoUserInfo struct {
	ID           int64 `json:"id"`
	KakaoAccount struct {
		Email           string `json:"email"`
		IsEmailVerified bool   `json:"is_email_verified"`
		Profile         struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、正規化済みプロフィールを取得する。
func (p *KakaoOAuthProvider) ExchangeCode(ctx context.Context, code, state string) (*Profile, error) {
	body, err := postForm(ctx, p.client, p.config.TokenURL, url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	accessToken, err := parseAccessToken(body)
	if err != nil {
		return nil, err
	}

	var userInfo kakaoUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if userInfo.ID == 0 {
		return nil, fmt.Errorf("empty id in user info response")
	}

	return &Profile{
		Provider:      model.ProviderKakao,
		ProviderID:    strconv.FormatInt(userInfo.ID, 10),
		Email:         userInfo.KakaoAccount.Email,
		Name:          userInfo.KakaoAccount.Profile.Nickname,
		AvatarURL:     userInfo.KakaoAccount.Profile.ProfileImageURL,
		EmailVerified: userInfo.KakaoAccount.IsEmailVerified,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*KakaoOAuthProvider)(nil)
