package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	defaultNaverAuthURL     = "https://nid.naver.com/oauth2.0/authorize"
	defaultNaverTokenURL    = "https://nid.naver.com/oauth2.0/token"
	defaultNaverUserInfoURL = "https://openapi.naver.com/v1/nid/me"
)

// NaverOAuthConfig はNaver OAuthプロバイダーの設定。
type NaverOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// NaverOAuthProvider はNaver OAuth 2.0による認証を提供する。
// Naverはトークンエンドポイントにもstateパラメータを要求する点が
// 他プロバイダーと異なる。
type NaverOAuthProvider struct {
	config NaverOAuthConfig
	client *http.Client
}

// NewNaverOAuthProvider はNaverOAuthProviderを生成する。
func NewNaverOAuthProvider(config NaverOAuthConfig, client *http.Client) *NaverOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultNaverAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultNaverTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultNaverUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &NaverOAuthProvider{config: config, client: client}
}

// Name はプロバイダー識別子を返す。
func (p *NaverOAuthProvider) Name() model.Provider {
	return model.ProviderNaver
}

// AuthCodeURL はNaver OAuthの認証URLを生成する。
func (p *NaverOAuthProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// naverUserInfo はNaverのプロフィールAPIのレスポンス。
// 実データはresponseフィールドの下にネストされる。
type naverUserInfo struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		Name         string `json:"name"`
		ProfileImage string `json:"profile_image"`
	} `json:"response"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、正規化済みプロフィールを取得する。
func (p *NaverOAuthProvider) ExchangeCode(ctx context.Context, code, state string) (*Profile, error) {
	body, err := postForm(ctx, p.client, p.config.TokenURL, url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"grant_type":    {"authorization_code"},
		"state":         {state},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	accessToken, err := parseAccessToken(body)
	if err != nil {
		return nil, err
	}

	var userInfo naverUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if userInfo.Response.ID == "" {
		return nil, fmt.Errorf("empty id in user info response: resultcode=%s", userInfo.ResultCode)
	}

	return &Profile{
		Provider:   model.ProviderNaver,
		ProviderID: userInfo.Response.ID,
		Email:      userInfo.Response.Email,
		Name:       userInfo.Response.Name,
		AvatarURL:  userInfo.Response.ProfileImage,
		// Naverのプロフィールにはメール検証フラグがないため、
		// メールが返っていれば検証済みとみなす。
		EmailVerified: userInfo.Response.Email != "",
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*NaverOAuthProvider)(nil)
