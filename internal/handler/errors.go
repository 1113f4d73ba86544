package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/session"
)

// CoreProvider はセッションIDに対応するセッションコアを解決する。
// *session.Registryが実装する。
type CoreProvider interface {
	Acquire(id string) *session.Core
}

// resolveCore はリクエストのセッションIDからコアを取得する。
// セッションミドルウェアが適用されていれば失敗しない。
func resolveCore(cores CoreProvider, r *http.Request) (*session.Core, *model.APIError) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		return nil, &model.APIError{
			Code:     model.ErrCodeSessionNotFound,
			Message:  "セッションが確立されていません。",
			Category: "system",
			Action:   "ページを再読み込みしてください。",
		}
	}
	return cores.Acquire(sessionID), nil
}

// writeInvalidRequestBody はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeValidationError,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeTokenRequired, model.ErrCodeValidationError,
		model.ErrCodeInvalidQuantity, model.ErrCodeSessionNotFound:
		return http.StatusBadRequest
	case model.ErrCodeItemUnavailable:
		return http.StatusNotFound
	case model.ErrCodeCartBusy, model.ErrCodeAuthConflict:
		return http.StatusConflict
	case model.ErrCodeNetworkError, model.ErrCodeReconcileFailed,
		model.ErrCodeNewsUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
