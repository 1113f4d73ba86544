// Package handler はストアフロントAPIのHTTPハンドラーとルーティングを提供する。
// 各ハンドラーはセッションCookieのIDでセッションコアを解決し、
// コア内の対応するコンポーネントに処理を委譲する。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
)

// AuthHandler は認証セッション管理のHTTPハンドラー。
type AuthHandler struct {
	cores CoreProvider
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(cores CoreProvider) *AuthHandler {
	return &AuthHandler{cores: cores}
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	IDToken string `json:"id_token"`
}

// userResponse は認証ユーザー情報のAPIレスポンス。
type userResponse struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
}

func toUserResponse(user *model.IdentityUser) userResponse {
	return userResponse{
		UID:           user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
	}
}

// SignIn はIDトークンを検証し、認証セッションを確立する。
// カートのアカウント連携はIDセッションの遷移を契機に非同期で進む。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.IDToken == "" {
		apiErr := model.NewTokenRequiredError()
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, err := core.Identity.SignIn(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// SignOut は認証セッションを破棄する。
// カートの連携解除はリコンサイラーが非同期で処理する。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	core.Identity.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証ユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	user := core.Identity.CurrentUser()
	if user == nil {
		apiErr := model.NewUnauthorizedError()
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}
