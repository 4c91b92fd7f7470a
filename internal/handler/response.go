// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス形。
// password_hashは決して含めない。
type userResponse struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Provider       string     `json:"provider"`
	AvatarURL      string     `json:"avatarUrl,omitempty"`
	MarketingAgree bool       `json:"marketingAgree"`
	EmailVerified  bool       `json:"emailVerified"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
}

// newUserResponse はmodel.Userからレスポンス形に変換する。
func newUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		Provider:       string(user.Provider),
		AvatarURL:      user.AvatarURL,
		MarketingAgree: user.MarketingAgree,
		EmailVerified:  user.EmailVerified,
		CreatedAt:      user.CreatedAt,
		LastLoginAt:    user.LastLoginAt,
	}
}

// apiErrorResponse はAPIエラーレスポンスの統一フォーマット。
type apiErrorResponse struct {
	Success  bool   `json:"success"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`

	// ソーシャル専用アカウントへのパスワードログイン試行の場合のみ設定される。
	// フロントエンドはこれを見て該当プロバイダーのログインボタンを案内する。
	IsSocialLogin bool   `json:"isSocialLogin,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
// ステータスコードはエラー自身のタクソノミーが決める。
func writeAPIErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	resp := apiErrorResponse{
		Success:  false,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	if apiErr.Code == model.ErrCodeSocialOnlyAccount {
		resp.IsSocialLogin = true
		resp.Provider = string(apiErr.Provider)
	}
	writeJSON(w, apiErr.Status, resp)
}

// handleServiceError はサービス層から返されたエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, model.NewInternalError())
}

// clientIP はリクエストからクライアントIPを取り出す。
// セッションの監査情報（どこからログインしたか）に使用する。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeJSONBody はリクエストボディをJSONとしてデコードする。
// ボディ不正の場合はfalseを返し、レスポンスは書き込み済み。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, model.NewValidationError("リクエストボディの形式が正しくありません。"))
		return false
	}
	return true
}
