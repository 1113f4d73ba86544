package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/synoptic/shopcore/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッションコア
	Cores CoreProvider

	// ミドルウェア依存
	SessionConfig     middleware.SessionConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// セッション非依存のサービス
	News NewsServiceInterface
	Push PushServiceInterface

	// ヘルスチェック用DB接続（nil可）
	DB Pinger

	// Prometheusメトリクスエンドポイント（nil可）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Session → RateLimit(General) → CSRF
//
// ヘルスチェックとメトリクスはセッションチェーンの外に配置する。
// カート変更系エンドポイントには変更専用レート制限を追加適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.Cores)
	cartHandler := NewCartHandler(deps.Cores)
	orderHandler := NewOrderHandler(deps.Cores)
	newsHandler := NewNewsHandler(deps.News)
	pushHandler := NewPushHandler(deps.Cores, deps.Push)
	healthHandler := NewHealthHandler(deps.DB)

	// --- セッション外のルート ---

	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- セッション管理下のルート ---
	// 未認証の閲覧も許可されるため、セッションミドルウェアは認証を要求しない。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 認証セッション
		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/me", authHandler.Me)
		})

		// カート
		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Get("/state", cartHandler.GetState)

			// 変更系は専用レート制限を追加
			cartMut := deps.RateLimiter.CartMutationMiddleware()
			r.With(cartMut).Post("/associate", cartHandler.Associate)
			r.Route("/items", func(r chi.Router) {
				r.With(cartMut).Post("/", cartHandler.AddItem)
				r.With(cartMut).Delete("/", cartHandler.Clear)
				r.Route("/{id}", func(r chi.Router) {
					r.With(cartMut).Patch("/", cartHandler.UpdateItem)
					r.With(cartMut).Delete("/", cartHandler.RemoveItem)
				})
			})
		})

		// 注文参照
		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{id}", orderHandler.GetOrder)
		})

		// ショップニュース
		r.Get("/api/news", newsHandler.ListNews)

		// デバイストークン
		r.Route("/api/push/tokens", func(r chi.Router) {
			r.Post("/", pushHandler.RegisterToken)
			r.Get("/", pushHandler.TokenStatus)
			r.Delete("/{platform}", pushHandler.UnregisterToken)
		})
	})

	return r
}
