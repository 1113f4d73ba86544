package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/push"
)

// PushServiceInterface はプッシュ通知ハンドラーが必要とするサービスインターフェース。
type PushServiceInterface interface {
	// Register はデバイストークンを登録する。
	Register(ctx context.Context, identityUID, token, platform string) (*model.DeviceToken, error)
	// Status は登録状態を返す。
	Status(ctx context.Context, identityUID string) ([]push.TokenStatus, error)
	// Unregister はデバイストークンを削除する。
	Unregister(ctx context.Context, identityUID, platform string) error
}

// PushHandler はデバイストークン登録のHTTPハンドラー。
// 対象ユーザーはセッションコアの認証状態から特定する。
type PushHandler struct {
	cores   CoreProvider
	service PushServiceInterface
}

// NewPushHandler はPushHandlerを生成する。
func NewPushHandler(cores CoreProvider, service PushServiceInterface) *PushHandler {
	return &PushHandler{cores: cores, service: service}
}

// registerTokenRequest はデバイストークン登録リクエストのボディ。
type registerTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// deviceTokenResponse はデバイストークン登録結果のAPIレスポンス。
type deviceTokenResponse struct {
	ID           string    `json:"id"`
	Platform     string    `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}

// tokenStatusListResponse は登録状態一覧のAPIレスポンス。
type tokenStatusListResponse struct {
	Tokens []push.TokenStatus `json:"tokens"`
}

// identityUID はリクエストのセッションコアから認証ユーザーのUIDを取得する。
func (h *PushHandler) identityUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return "", false
	}

	user := core.Identity.CurrentUser()
	if user == nil {
		apiErr := model.NewUnauthorizedError()
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
		return "", false
	}
	return user.ID, true
}

// RegisterToken はモバイルシェルのデバイストークンを登録する。
// 同一プラットフォームへの再登録はトークンの上書きとして扱う。
// POST /api/push/tokens
func (h *PushHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.identityUID(w, r)
	if !ok {
		return
	}

	var req registerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	token, err := h.service.Register(r.Context(), uid, req.Token, req.Platform)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(deviceTokenResponse{
		ID:           token.ID,
		Platform:     token.Platform,
		RegisteredAt: token.RegisteredAt,
	})
}

// TokenStatus は全プラットフォームのトークン登録状態を返す。
// GET /api/push/tokens
func (h *PushHandler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.identityUID(w, r)
	if !ok {
		return
	}

	statuses, err := h.service.Status(r.Context(), uid)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenStatusListResponse{Tokens: statuses})
}

// UnregisterToken は指定プラットフォームのデバイストークンを削除する。
// 未登録の場合も成功として扱う。
// DELETE /api/push/tokens/:platform
func (h *PushHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.identityUID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unregister(r.Context(), uid, chi.URLParam(r, "platform")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
