package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/news"
	"github.com/synoptic/shopcore/internal/push"
)

// newTestRouter はテスト用の依存関係でルーターを構成する。
func newTestRouter(t *testing.T, cores CoreProvider) http.Handler {
	t.Helper()

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	return NewRouter(&RouterDeps{
		Cores: cores,
		SessionConfig: middleware.SessionConfig{
			NewID: func() string { return "sid-issued" },
		},
		CSRFConfig:        middleware.CSRFConfig{},
		CORSAllowedOrigin: "https://shop.example.com",
		RateLimiter:       limiter,
		Logger:            discardLogger(),
		News: &mockNewsService{
			latestFunc: func(ctx context.Context) ([]news.Item, error) {
				return []news.Item{{ID: "n-1", Title: "お知らせ"}}, nil
			},
		},
		Push: &mockPushService{
			statusFunc: func(ctx context.Context, identityUID string) ([]push.TokenStatus, error) {
				return []push.TokenStatus{}, nil
			},
		},
	})
}

// withSessionCookie はセッションCookieを付与する。
func withSessionCookie(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "storefront_sid", Value: "sid-test"})
	return req
}

// withCSRF はCSRFトークンのCookieとヘッダーを付与する。
func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "test-csrf"})
	req.Header.Set("X-CSRF-Token", "test-csrf")
	return req
}

// TestRouter_Health はヘルスチェックがセッションなしで応答することをテストする。
func TestRouter_Health(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status 期待: ok, 結果: %s", resp["status"])
	}
}

// TestRouter_CartState_IssuesSessionCookie はCookieなしのアクセスで
// 新規セッションCookieが発行されることをテストする。
func TestRouter_CartState_IssuesSessionCookie(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := httptest.NewRequest(http.MethodGet, "/api/cart/state", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var issued bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "storefront_sid" && c.Value == "sid-issued" {
			issued = true
		}
	}
	if !issued {
		t.Error("新規セッションCookieが発行されるべき")
	}
}

// TestRouter_AddItem_RequiresCSRFToken は変更系エンドポイントが
// CSRFトークンなしで403を返すことをテストする。
func TestRouter_AddItem_RequiresCSRFToken(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	body := strings.NewReader(`{"product_id":"prod-1","quantity":1}`)
	req := withSessionCookie(httptest.NewRequest(http.MethodPost, "/api/cart/items", body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusForbidden, w.Code)
	}
}

// TestRouter_AddItem_WithCSRFToken はCSRFトークン付きの商品追加が通ることをテストする。
func TestRouter_AddItem_WithCSRFToken(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	body := strings.NewReader(`{"product_id":"prod-1","quantity":1}`)
	req := withCSRF(withSessionCookie(httptest.NewRequest(http.MethodPost, "/api/cart/items", body)))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}
}

// TestRouter_News はニュース一覧がセッション管理下で取得できることをテストする。
func TestRouter_News(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/news", nil))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp newsListResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Items) != 1 {
		t.Errorf("記事数 期待: 1, 結果: %d", len(resp.Items))
	}
}

// TestRouter_Me_Unauthenticated は未認証の/api/auth/meが401を返すことをテストする。
func TestRouter_Me_Unauthenticated(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusUnauthorized, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["code"] != model.ErrCodeUnauthorized {
		t.Errorf("エラーコード 期待: %s, 結果: %s", model.ErrCodeUnauthorized, resp["code"])
	}
}

// TestRouter_SignInFlow はサインインからユーザー情報取得までの一連の流れをテストする。
func TestRouter_SignInFlow(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	// サインイン
	body := strings.NewReader(`{"id_token":"valid-token"}`)
	req := withCSRF(withSessionCookie(httptest.NewRequest(http.MethodPost, "/api/auth/signin", body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("サインインのステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	// ユーザー情報取得
	req = withSessionCookie(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("meのステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp userResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.UID != "uid-1" {
		t.Errorf("UID 期待: uid-1, 結果: %s", resp.UID)
	}
}

// TestRouter_CSRFTokenEndpoint はCSRFトークン取得エンドポイントをテストする。
func TestRouter_CSRFTokenEndpoint(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード 期待: %d, 結果: %d", http.StatusOK, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["token"] == "" {
		t.Error("CSRFトークンが返るべき")
	}
}

// TestRouter_SecurityHeaders はセキュリティヘッダーが全応答に付与されることをテストする。
func TestRouter_SecurityHeaders(t *testing.T) {
	cores := newTestCores(t, &mockAPI{}, &mockVerifier{})
	router := newTestRouter(t, cores)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options 期待: nosniff, 結果: %s", got)
	}
}
