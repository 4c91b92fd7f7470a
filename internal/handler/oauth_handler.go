package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/model"
)

// OAuthServiceInterface はOAuthハンドラーが必要とするサービスインターフェース。
type OAuthServiceInterface interface {
	BeginOAuth(providerName string) (authURL, state string, err error)
	HandleCallback(ctx context.Context, input auth.CallbackInput) (*model.User, *model.Session, error)
}

// OAuthHandler はソーシャルログインフローのHTTPハンドラー。
// コールバックはブラウザのトップレベルナビゲーションで到達するため、
// 失敗時はJSONではなくログインページへのリダイレクトでエラーを伝える。
type OAuthHandler struct {
	service OAuthServiceInterface
	auth    AuthServiceInterface
	config  AuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service OAuthServiceInterface, authService AuthServiceInterface, config AuthHandlerConfig) *OAuthHandler {
	return &OAuthHandler{
		service: service,
		auth:    authService,
		config:  config,
	}
}

// Begin はOAuthフローを開始する。
// GET /auth/{provider}/login
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	authURL, state, err := h.service.BeginOAuth(providerName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	query := r.URL.Query()

	// stateクッキーは成否にかかわらず一回限り
	stateCookie, _ := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	// プロバイダー側でユーザーが拒否した場合などはerrorパラメータで戻ってくる
	if provErr := query.Get("error"); provErr != "" {
		slog.Warn("oauth provider returned error",
			slog.String("provider", providerName),
			slog.String("error", provErr),
			slog.String("description", query.Get("error_description")),
		)
		h.redirectWithError(w, r, model.NewProviderErrorError())
		return
	}

	// errorもcodeもないコールバックは不正なリクエストであり、state検証の失敗とは区別する
	code := query.Get("code")
	if code == "" {
		h.redirectWithError(w, r, model.NewValidationError("認可コードがありません。"))
		return
	}

	cookieState := ""
	if stateCookie != nil {
		cookieState = stateCookie.Value
	}

	user, session, err := h.service.HandleCallback(r.Context(), auth.CallbackInput{
		Provider:    providerName,
		Code:        code,
		State:       query.Get("state"),
		CookieState: cookieState,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.redirectWithError(w, r, model.AsAPIError(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.auth.SessionTTL(true).Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("oauth callback completed",
		slog.Int64("user_id", user.ID),
		slog.String("provider", providerName),
	)

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// redirectWithError はログインページにエラーコードを付けてリダイレクトする。
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	params := url.Values{
		"error":   {apiErr.Code},
		"message": {apiErr.Message},
	}
	if apiErr.Provider != "" {
		params.Set("provider", string(apiErr.Provider))
	}
	http.Redirect(w, r, h.config.BaseURL+"/login?"+params.Encode(), http.StatusTemporaryRedirect)
}

// clearStateCookie はOAuth stateクッキーを削除する。
func (h *OAuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
