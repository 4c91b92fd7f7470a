// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// HTTPステータスとUIに表示するメッセージ、対処方法を含む。
// 下位レイヤーの生のエラーは各公開オペレーションの境界で
// このタクソノミーに変換され、呼び出し元には漏れない。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // ユーザー向けメッセージ
	Category string   // カテゴリ: auth, validation, oauth, system
	Action   string   // ユーザー向け対処方法
	Status   int      // HTTPステータスコード
	Provider Provider // ソーシャルログイン関連エラーで案内するプロバイダー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	ErrCodeAuthFailed        = "AUTHENTICATION_FAILED"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeSocialOnlyAccount = "SOCIAL_ONLY_ACCOUNT"
	ErrCodeAccountSuspended  = "ACCOUNT_SUSPENDED"
	ErrCodeProviderConflict  = "PROVIDER_CONFLICT"
	ErrCodeStateMismatch     = "STATE_MISMATCH"
	ErrCodeProviderError     = "PROVIDER_ERROR"
	ErrCodeSessionInvalid    = "SESSION_INVALID"
	ErrCodeCSRF              = "CSRF_TOKEN_INVALID"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrDuplicateEmail はemail一意制約違反を示すセンチネルエラー。
// リポジトリ層がpqの一意制約違反から変換する。
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateProviderID は(provider, provider_id)一意制約違反を示す。
// 同一ソーシャルIDの同時初回ログインの競合検出に使用する。
var ErrDuplicateProviderID = errors.New("provider identity already registered")

// NewValidationError は入力検証エラーを生成する。
// messageは該当フィールドを特定できる具体的な内容にする。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
		Status:   http.StatusBadRequest,
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
		Status:   http.StatusConflict,
	}
}

// NewAuthFailedError は認証失敗エラーを生成する。
// パスワード不一致の場合はアカウント列挙を防ぐため意図的に汎用的なメッセージを返す。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
		Status:   http.StatusUnauthorized,
	}
}

// NewAccountNotFoundError は未登録アカウントエラーを生成する。
// 登録への誘導を優先し、パスワード不一致より具体的なメッセージを返す
// （プロダクト上の意図的なトレードオフ）。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "このメールアドレスのアカウントは登録されていません。",
		Category: "auth",
		Action:   "新規登録するか、ソーシャルログインをお試しください。",
		Status:   http.StatusUnauthorized,
	}
}

// NewSocialOnlyAccountError はソーシャル専用アカウントへの
// パスワードログイン試行エラーを生成する。
func NewSocialOnlyAccountError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeSocialOnlyAccount,
		Message:  fmt.Sprintf("このアカウントは%sログインで登録されています。", provider),
		Category: "auth",
		Action:   fmt.Sprintf("%sログインをご利用ください。", provider),
		Status:   http.StatusForbidden,
		Provider: provider,
	}
}

// NewAccountSuspendedError は停止中アカウントエラーを生成する。
func NewAccountSuspendedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountSuspended,
		Message:  "このアカウントは現在利用できません。",
		Category: "auth",
		Action:   "サポートにお問い合わせください。",
		Status:   http.StatusForbidden,
	}
}

// NewProviderConflictError は別プロバイダーで登録済みのメールアドレスへの
// ソーシャルログイン試行エラーを生成する。
func NewProviderConflictError(existing Provider) *APIError {
	return &APIError{
		Code:     ErrCodeProviderConflict,
		Message:  fmt.Sprintf("このメールアドレスは%sログインで登録されています。", existing),
		Category: "oauth",
		Action:   fmt.Sprintf("%sログインをご利用ください。", existing),
		Status:   http.StatusForbidden,
		Provider: existing,
	}
}

// NewStateMismatchError はOAuth stateトークン不一致エラーを生成する。
func NewStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeStateMismatch,
		Message:  "ログインセッションの有効期限が切れました。",
		Category: "oauth",
		Action:   "最初からログインをやり直してください。",
		Status:   http.StatusBadRequest,
	}
}

// NewProviderErrorError はプロバイダーとの通信失敗エラーを生成する。
// プロバイダーの生のエラー内容はログのみに記録し、ユーザーには返さない。
func NewProviderErrorError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  "ソーシャルログインに失敗しました。",
		Category: "oauth",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusBadGateway,
	}
}

// NewSessionInvalidError は無効セッションエラーを生成する。
func NewSessionInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionInvalid,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
		Status:   http.StatusUnauthorized,
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みして再度お試しください。",
		Status:   http.StatusForbidden,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
		Status:   http.StatusUnauthorized,
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusInternalServerError,
	}
}

// AsAPIError はエラーをAPIErrorに変換する。
// タクソノミー外のエラーはInternalErrorに丸める。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError()
}
