package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/synoptic/shopcore/internal/model"
)

// TestSignIn_Success は有効なIDトークンでサインインできることをテストする。
func TestSignIn_Success(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	h := NewAuthHandler(cores)

	req := newSessionRequest(http.MethodPost, "/api/auth/signin", `{"id_token":"valid-token"}`)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp userResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp.UID != "uid-1" {
		t.Errorf("UID 期待: uid-1, 結果: %s", resp.UID)
	}
	if resp.Email != "taro@example.com" {
		t.Errorf("Email 期待: taro@example.com, 結果: %s", resp.Email)
	}

	if !cores.core.Identity.IsAuthenticated() {
		t.Error("サインイン後は認証済みであるべき")
	}
}

// TestSignIn_MissingToken はIDトークンなしのサインインが400を返すことをテストする。
func TestSignIn_MissingToken(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	h := NewAuthHandler(cores)

	req := newSessionRequest(http.MethodPost, "/api/auth/signin", `{"id_token":""}`)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["code"] != model.ErrCodeTokenRequired {
		t.Errorf("エラーコード 期待: %s, 結果: %s", model.ErrCodeTokenRequired, resp["code"])
	}
}

// TestSignIn_InvalidBody は不正なJSONボディが400を返すことをテストする。
func TestSignIn_InvalidBody(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	h := NewAuthHandler(cores)

	req := newSessionRequest(http.MethodPost, "/api/auth/signin", `{invalid`)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("ステータスコード 期待: %d, 結果: %d", http.StatusBadRequest, w.Code)
	}
}

// TestSignIn_VerifierRejects はトークン検証失敗が401を返すことをテストする。
func TestSignIn_VerifierRejects(t *testing.T) {
	verifier := &mockVerifier{
		verifyFunc: func(ctx context.Context, idToken string) (*model.IdentityUser, error) {
			return nil, model.NewUnauthorizedError()
		},
	}
	cores := newTestCores(t, &mockAPI{}, verifier)
	h := NewAuthHandler(cores)

	req := newSessionRequest(http.MethodPost, "/api/auth/signin", `{"id_token":"bad-token"}`)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusUnauthorized, w.Code)
	}
	if cores.core.Identity.IsAuthenticated() {
		t.Error("検証失敗後は未認証のままであるべき")
	}
}

// TestSignOut_ReturnsNoContent はサインアウトが204を返し認証状態を破棄することをテストする。
func TestSignOut_ReturnsNoContent(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	signIn(t, cores)

	h := NewAuthHandler(cores)
	req := newSessionRequest(http.MethodPost, "/api/auth/signout", "")
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusNoContent, w.Code)
	}
	if cores.core.Identity.IsAuthenticated() {
		t.Error("サインアウト後は未認証であるべき")
	}
}

// TestMe_Authenticated は認証済みユーザーの情報が返ることをテストする。
func TestMe_Authenticated(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	signIn(t, cores)

	h := NewAuthHandler(cores)
	req := newSessionRequest(http.MethodGet, "/api/auth/me", "")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp userResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.UID != "uid-1" {
		t.Errorf("UID 期待: uid-1, 結果: %s", resp.UID)
	}
}

// TestMe_Unauthenticated は未認証時に401が返ることをテストする。
func TestMe_Unauthenticated(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	h := NewAuthHandler(cores)

	req := newSessionRequest(http.MethodGet, "/api/auth/me", "")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusUnauthorized, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["code"] != model.ErrCodeUnauthorized {
		t.Errorf("エラーコード 期待: %s, 結果: %s", model.ErrCodeUnauthorized, resp["code"])
	}
}

// TestSignIn_NoSessionContext はセッションID未注入のリクエストが400を返すことをテストする。
func TestSignIn_NoSessionContext(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	h := NewAuthHandler(cores)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusBadRequest, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["code"] != model.ErrCodeSessionNotFound {
		t.Errorf("エラーコード 期待: %s, 結果: %s", model.ErrCodeSessionNotFound, resp["code"])
	}
}
