package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// GetUser は指定IDのユーザーを取得する。
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	// UpdateProfile はプロフィールを部分更新し、更新後のユーザーを返す。
	UpdateProfile(ctx context.Context, userID int64, patch *model.ProfilePatch) (*model.User, error)
	// ChangePassword は現在のパスワードを検証して変更し、新しいセッションを発行する。
	ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword, ipAddress, userAgent string) (*model.Session, error)
	// Deactivate はアカウントを停止し、全セッションを失効させる。
	Deactivate(ctx context.Context, userID int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	auth    AuthServiceInterface
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, authService AuthServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		auth:    authService,
		config:  config,
	}
}

// GetMe は自分のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, model.NewSessionInvalidError())
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    newUserResponse(user),
	})
}

// UpdateMe はプロフィールを部分更新する。
// 送信されたフィールドのみ更新される。avatarUrlは明示的なnullでクリアできる。
// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, model.NewSessionInvalidError())
		return
	}

	var patch model.ProfilePatch
	if !decodeJSONBody(w, r, &patch) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, &patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    newUserResponse(user),
	})
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword はパスワードを変更する。
// 成功すると既存の全セッションが失効し、新しいセッションCookieが設定される。
// PUT /api/users/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, model.NewSessionInvalidError())
		return
	}

	var req changePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword, clientIP(r), r.UserAgent())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID, h.auth.SessionTTL(false))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}

// DeleteMe はアカウントを停止する。
// DELETE /api/users/me
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, model.NewSessionInvalidError())
		return
	}

	if err := h.service.Deactivate(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// setSessionCookie はセッションIDをHTTP Only Cookieに設定する。
func (h *UserHandler) setSessionCookie(w http.ResponseWriter, sessionID string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *UserHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
