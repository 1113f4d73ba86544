package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/synoptic/shopcore/internal/cartview"
	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/identity"
	"github.com/synoptic/shopcore/internal/metrics"
	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/orders"
	"github.com/synoptic/shopcore/internal/reconcile"
	"github.com/synoptic/shopcore/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// nopCollector はテスト用のメトリクスコレクター。
type nopCollector struct{}

func (c *nopCollector) RecordReconcileAttempt(method string)             {}
func (c *nopCollector) RecordReconcileOutcome(outcome string)            {}
func (c *nopCollector) RecordRetryExhausted()                            {}
func (c *nopCollector) RecordCartMutation(operation string)              {}
func (c *nopCollector) RecordCartMutationFailure(operation, kind string) {}
func (c *nopCollector) RecordCommerceStatus(statusCode int)              {}
func (c *nopCollector) RecordCommerceLatency(duration time.Duration)     {}
func (c *nopCollector) RecordActiveSessions(count int)                   {}

var _ metrics.MetricsCollector = (*nopCollector)(nil)

// mockVerifier はIDトークン検証のモック。
type mockVerifier struct {
	verifyFunc func(ctx context.Context, idToken string) (*model.IdentityUser, error)
}

func (m *mockVerifier) Verify(ctx context.Context, idToken string) (*model.IdentityUser, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, idToken)
	}
	return &model.IdentityUser{
		ID:            "uid-1",
		Email:         "taro@example.com",
		DisplayName:   "Taro Yamada",
		EmailVerified: true,
	}, nil
}

var _ identity.TokenVerifier = (*mockVerifier)(nil)

// mockAPI はコマースプロバイダーのモック。
// 関数フィールドが未設定の操作はデフォルトの成功応答を返す。
type mockAPI struct {
	getCartFunc        func(ctx context.Context) (*model.Cart, error)
	addItemFunc        func(ctx context.Context, input commerce.ItemInput) (*model.Cart, error)
	updateItemFunc     func(ctx context.Context, itemID string, quantity int) (*model.Cart, error)
	removeItemFunc     func(ctx context.Context, itemID string) (*model.Cart, error)
	clearItemsFunc     func(ctx context.Context) (*model.Cart, error)
	setCartAccountFunc func(ctx context.Context, email string) (*model.Cart, error)
	loginFunc          func(ctx context.Context, email, password string) (*model.CommerceAccount, error)
	listOrdersFunc     func(ctx context.Context, query commerce.OrderQuery) (*model.OrderPage, error)
	getOrderFunc       func(ctx context.Context, orderID string) (*model.Order, error)
}

func (m *mockAPI) GetCart(ctx context.Context) (*model.Cart, error) {
	if m.getCartFunc != nil {
		return m.getCartFunc(ctx)
	}
	return nil, nil
}

func (m *mockAPI) AddItem(ctx context.Context, input commerce.ItemInput) (*model.Cart, error) {
	if m.addItemFunc != nil {
		return m.addItemFunc(ctx, input)
	}
	return &model.Cart{ID: "cart-1"}, nil
}

func (m *mockAPI) UpdateItem(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, itemID, quantity)
	}
	return &model.Cart{ID: "cart-1"}, nil
}

func (m *mockAPI) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	if m.removeItemFunc != nil {
		return m.removeItemFunc(ctx, itemID)
	}
	return &model.Cart{ID: "cart-1"}, nil
}

func (m *mockAPI) ClearItems(ctx context.Context) (*model.Cart, error) {
	if m.clearItemsFunc != nil {
		return m.clearItemsFunc(ctx)
	}
	return &model.Cart{ID: "cart-1"}, nil
}

func (m *mockAPI) SetCartAccount(ctx context.Context, email string) (*model.Cart, error) {
	if m.setCartAccountFunc != nil {
		return m.setCartAccountFunc(ctx, email)
	}
	return &model.Cart{ID: "cart-1", AccountID: "acct-1"}, nil
}

func (m *mockAPI) Login(ctx context.Context, email, password string) (*model.CommerceAccount, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, email, password)
	}
	return &model.CommerceAccount{ID: "acct-1", Email: email}, nil
}

func (m *mockAPI) CreateAccount(ctx context.Context, profile model.AccountProfile) (*model.CommerceAccount, error) {
	return &model.CommerceAccount{ID: "acct-1", Email: profile.Email}, nil
}

func (m *mockAPI) Logout(ctx context.Context) error { return nil }

func (m *mockAPI) CurrentAccount(ctx context.Context) (*model.CommerceAccount, error) {
	return nil, nil
}

func (m *mockAPI) ListOrders(ctx context.Context, query commerce.OrderQuery) (*model.OrderPage, error) {
	if m.listOrdersFunc != nil {
		return m.listOrdersFunc(ctx, query)
	}
	return &model.OrderPage{Page: 1, Pages: 1}, nil
}

func (m *mockAPI) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if m.getOrderFunc != nil {
		return m.getOrderFunc(ctx, orderID)
	}
	return &model.Order{ID: orderID}, nil
}

var _ commerce.API = (*mockAPI)(nil)

// fakeCores は単一コアを返すCoreProvider。
type fakeCores struct {
	core *session.Core
}

func (f *fakeCores) Acquire(id string) *session.Core { return f.core }

var _ CoreProvider = (*fakeCores)(nil)

// newTestCores はモックで配線されたセッションコアを持つCoreProviderを返す。
// コアの常駐ゴルーチンと購読はテスト終了時に停止される。
func newTestCores(t *testing.T, api commerce.API, verifier identity.TokenVerifier) *fakeCores {
	t.Helper()
	logger := discardLogger()
	collector := &nopCollector{}

	idSession := identity.NewSession(verifier, logger)
	cart := commerce.NewSession(api, logger)
	reconciler := reconcile.NewReconciler(api, cart, reconcile.Config{
		MaxRetries:   3,
		BackoffBase:  time.Millisecond,
		AuthWait:     time.Second,
		BridgeSecret: "test-secret",
	}, collector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go reconciler.Run(ctx)
	unsub := idSession.Subscribe(reconciler.OnTransition)
	idSession.Determine()

	view := cartview.NewViewModel(cart, reconciler, idSession, collector, logger)
	orderService := orders.NewService(api, reconciler, logger)

	t.Cleanup(func() {
		view.Close()
		unsub()
		cancel()
	})

	return &fakeCores{core: &session.Core{
		ID:         "sid-test",
		Identity:   idSession,
		Commerce:   cart,
		Reconciler: reconciler,
		View:       view,
		Orders:     orderService,
	}}
}

// newSessionRequest はセッションID注入済みのテストリクエストを生成する。
func newSessionRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.ContextWithSessionID(req.Context(), "sid-test"))
}

// signIn はテストコアの認証セッションを確立し、アカウント連携の決着を待つ。
func signIn(t *testing.T, cores *fakeCores) {
	t.Helper()
	if _, err := cores.core.Identity.SignIn(context.Background(), "valid-token"); err != nil {
		t.Fatalf("サインインに失敗: %v", err)
	}
	waitForReconcileState(t, cores.core.Reconciler, reconcile.StateAssociated)
}

// waitForReconcileState はリコンサイラーが指定状態に達するまで待機する。
func waitForReconcileState(t *testing.T, r *reconcile.Reconciler, want reconcile.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("リコンサイラーが状態 %v に達しませんでした（現在: %v）", want, r.Status().State)
}
