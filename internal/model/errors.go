// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, commerce, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNetworkError    = "NETWORK_ERROR"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeItemUnavailable = "ITEM_UNAVAILABLE"
	ErrCodeAuthConflict    = "AUTH_CONFLICT"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeCartBusy        = "CART_BUSY"
	ErrCodeReconcileFailed = "RECONCILE_FAILED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidQuantity = "INVALID_QUANTITY"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeNewsUnavailable = "NEWS_UNAVAILABLE"
	ErrCodeTokenRequired   = "TOKEN_REQUIRED"
)

// FailureKind はコマースプロバイダー呼び出しの失敗分類を表す。
// リトライ可否の判定に使用する。
type FailureKind int

const (
	// FailureNetwork は一時的な通信エラー。リトライ対象。
	FailureNetwork FailureKind = iota
	// FailureNotFound は商品・バリアントの不存在または無効化。リトライ対象外。
	FailureNotFound
	// FailureValidation は入力値の不正。リトライ対象外。
	FailureValidation
	// FailureAuthConflict は認証情報の不一致。認証メソッドチェーンの次手段へフォールスルーする。
	FailureAuthConflict
	// FailureTimeout は待機側のソフトタイムアウト。下層の呼び出しは中断されない。
	FailureTimeout
)

// String はFailureKindの文字列表現を返す。メトリクスのラベルに使用する。
func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailureNotFound:
		return "not_found"
	case FailureValidation:
		return "validation"
	case FailureAuthConflict:
		return "auth_conflict"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// CommerceError はコマースプロバイダー呼び出しの型付き失敗を表す。
type CommerceError struct {
	Kind       FailureKind
	StatusCode int   // HTTPステータス。通信エラーの場合は0
	Err        error // 元のエラー。存在しない場合はnil
}

// Error はerrorインターフェースを実装する。
func (e *CommerceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("commerce %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("commerce %s (status %d)", e.Kind, e.StatusCode)
}

// Unwrap はラップされた元のエラーを返す。
func (e *CommerceError) Unwrap() error {
	return e.Err
}

// Retryable は失敗がバックオフ付きリトライの対象かを返す。
func (e *CommerceError) Retryable() bool {
	return e.Kind == FailureNetwork
}

// NewCommerceError はCommerceErrorを生成する。
func NewCommerceError(kind FailureKind, statusCode int, err error) *CommerceError {
	return &CommerceError{Kind: kind, StatusCode: statusCode, Err: err}
}

// FailureKindOf はエラーからFailureKindを取り出す。
// CommerceErrorでない場合はFailureNetworkとして扱う（通信層の素のエラー）。
func FailureKindOf(err error) FailureKind {
	var ce *CommerceError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailureNetwork
}

// NewItemUnavailableError は商品が利用できない場合のエラーを生成する。
func NewItemUnavailableError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemUnavailable,
		Message:  fmt.Sprintf("指定された商品は現在ご利用いただけません: %s", productID),
		Category: "commerce",
		Action:   "商品ページを再読み込みして、在庫状況を確認してください。",
	}
}

// NewInvalidQuantityError は数量が不正な場合のエラーを生成する。
func NewInvalidQuantityError(quantity int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("無効な数量です: %d", quantity),
		Category: "validation",
		Action:   fmt.Sprintf("数量は1から%dの範囲で指定してください。", MaxItemQuantity),
	}
}

// NewCartBusyError はカート操作が進行中の場合のエラーを生成する。
func NewCartBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeCartBusy,
		Message:  "カートの更新処理が進行中です。",
		Category: "commerce",
		Action:   "前の操作が完了してから再度お試しください。",
	}
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  "ストアとの通信に失敗しました。",
		Category: "system",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewReconcileFailedError はアカウント連携の最終失敗エラーを生成する。
// カート自体はゲスト状態のまま引き続き利用できる。
func NewReconcileFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeReconcileFailed,
		Message:  "ストアアカウントとの連携に失敗しました。",
		Category: "auth",
		Action:   "カートはゲストとして引き続きご利用いただけます。再ログインで連携を再試行します。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTokenRequiredError はデバイストークン未指定エラーを生成する。
func NewTokenRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenRequired,
		Message:  "デバイストークンが指定されていません。",
		Category: "validation",
		Action:   "tokenフィールドにAPNs/FCMデバイストークンを指定してください。",
	}
}

// NewNewsUnavailableError はニュースフィード取得失敗エラーを生成する。
func NewNewsUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeNewsUnavailable,
		Message:  "ショップニュースの取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
