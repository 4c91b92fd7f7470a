// Package auth はパスワード認証、OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// Profile はOAuthプロバイダーから取得したユーザー情報の正規化形。
// 各プロバイダー実装が自身のレスポンス形式からこの形に変換する責任を持つ。
// 識別子リコンシリエーションはこの形のみを消費する。
type Profile struct {
	Provider      model.Provider
	ProviderID    string // プロバイダー発行のsubject識別子。必須。
	Email         string // プロバイダーが開示しない場合は空
	Name          string
	AvatarURL     string
	EmailVerified bool // プロバイダーがメール確認済みを表明しているか
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// Google, Kakao, Naverの各実装がこれを満たす。
type OAuthProvider interface {
	// Name はプロバイダー識別子を返す。
	Name() model.Provider
	// AuthCodeURL はstateを埋め込んだ認可URLを生成する。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、正規化済みプロフィールを取得する。
	// コード交換・プロフィール取得のHTTP失敗、subject識別子の欠落はエラーとなる。
	ExchangeCode(ctx context.Context, code, state string) (*Profile, error)
}

// GenerateState はCSRF対策用のランダムなstate値を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// postForm はトークンエンドポイントへのフォームPOSTを実行し、レスポンスボディを返す。
// ステータスが200以外の場合はボディ込みのエラーを返す。
func postForm(ctx context.Context, client *http.Client, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// getJSON はBearerトークン付きのGETを実行し、レスポンスをoutにデコードする。
func getJSON(ctx context.Context, client *http.Client, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse user info response: %w", err)
	}
	return nil
}

// tokenResponse はOAuthトークンエンドポイントの共通レスポンス形。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// parseAccessToken はトークンレスポンスからアクセストークンを取り出す。
func parseAccessToken(body []byte) (string, error) {
	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return tokenResp.AccessToken, nil
}
