// Package session はストアフロントのブラウザセッションごとに
// 配線済みのコアコンポーネント一式（IDセッション、カートセッション、
// リコンサイラー、カートビューモデル）を管理する。
// コアはセッションCookieのIDをキーに遅延生成され、
// 一定時間アクセスがなければ破棄される。
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synoptic/shopcore/internal/cartview"
	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/config"
	"github.com/synoptic/shopcore/internal/identity"
	"github.com/synoptic/shopcore/internal/metrics"
	"github.com/synoptic/shopcore/internal/orders"
	"github.com/synoptic/shopcore/internal/reconcile"
)

// Core は1つのブラウザセッションに対応する配線済みコンポーネント一式。
// 各コアは独立しており、コア間で状態を共有しない。
type Core struct {
	ID         string
	Identity   *identity.Session
	Commerce   *commerce.Session
	Reconciler *reconcile.Reconciler
	View       *cartview.ViewModel
	Orders     *orders.Service

	cancel context.CancelFunc
	unsub  func()

	lastAccess time.Time // Registry.muで保護される
}

// close はコアの購読と常駐ゴルーチンを停止する。
func (c *Core) close() {
	c.View.Close()
	c.unsub()
	c.cancel()
}

// CoreBuilder はセッションIDに対応するコアを生成する。
type CoreBuilder func(id string) *Core

// NewCoreBuilder は設定に基づく本番用のCoreBuilderを返す。
// 生成されるコアはIDセッションの遷移をリコンサイラーに配線し、
// リコンサイラーのイベントループを起動した状態で返される。
func NewCoreBuilder(cfg *config.Config, collector metrics.MetricsCollector, logger *slog.Logger) CoreBuilder {
	return func(id string) *Core {
		coreLogger := logger.With(slog.String("session_id", id))

		verifier := identity.NewRESTVerifier(identity.RESTVerifierConfig{
			VerifyURL:  cfg.IdentityVerifyURL,
			APIKey:     cfg.IdentityAPIKey,
			HTTPClient: &http.Client{Timeout: cfg.CommerceTimeout},
		})
		idSession := identity.NewSession(verifier, coreLogger)

		client := commerce.NewClient(commerce.ClientConfig{
			APIURL:     cfg.CommerceAPIURL,
			StoreID:    cfg.CommerceStoreID,
			PublicKey:  cfg.CommercePublicKey,
			HTTPClient: &http.Client{Timeout: cfg.CommerceTimeout},
		}, collector, coreLogger)
		cart := commerce.NewSession(client, coreLogger)

		reconciler := reconcile.NewReconciler(client, cart, reconcile.Config{
			MaxRetries:   cfg.ReconcileMaxRetries,
			BackoffBase:  cfg.ReconcileBackoff,
			AuthWait:     cfg.CommerceAuthWait,
			BridgeSecret: cfg.BridgeSecret,
		}, collector, coreLogger)

		ctx, cancel := context.WithCancel(context.Background())
		go reconciler.Run(ctx)
		unsub := idSession.Subscribe(reconciler.OnTransition)

		// 新規セッションには保持済みの認証情報がないため、
		// 未認証として初回確定させてリコンサイラーを決着させる
		idSession.Determine()

		view := cartview.NewViewModel(cart, reconciler, idSession, collector, coreLogger)
		orderService := orders.NewService(client, reconciler, coreLogger)

		return &Core{
			ID:         id,
			Identity:   idSession,
			Commerce:   cart,
			Reconciler: reconciler,
			View:       view,
			Orders:     orderService,
			cancel:     cancel,
			unsub:      unsub,
		}
	}
}

// Registry はセッションIDからコアへのマッピングを管理する。
type Registry struct {
	builder   CoreBuilder
	ttl       time.Duration
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu    sync.Mutex
	cores map[string]*Core
}

// NewRegistry はRegistryの新しいインスタンスを生成する。
func NewRegistry(builder CoreBuilder, ttl time.Duration, collector metrics.MetricsCollector, logger *slog.Logger) *Registry {
	return &Registry{
		builder:   builder,
		ttl:       ttl,
		collector: collector,
		logger:    logger,
		cores:     make(map[string]*Core),
	}
}

// NewSessionID は新しいセッションIDを採番する。
func NewSessionID() string {
	return uuid.NewString()
}

// Acquire は指定IDのコアを返す。存在しない場合は生成する。
// アクセス時刻が更新され、TTLによる破棄が先送りされる。
func (r *Registry) Acquire(id string) *Core {
	r.mu.Lock()
	defer r.mu.Unlock()

	core, ok := r.cores[id]
	if !ok {
		core = r.builder(id)
		r.cores[id] = core
		r.collector.RecordActiveSessions(len(r.cores))
		r.logger.Info("セッションコアを生成しました",
			slog.String("session_id", id),
			slog.Int("active_cores", len(r.cores)),
		)
	}
	core.lastAccess = time.Now()
	return core
}

// Evict は指定IDのコアを破棄する。存在しない場合は何もしない。
// サインアウトやセッション破棄のエンドポイントから呼ばれる。
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	core, ok := r.cores[id]
	if ok {
		delete(r.cores, id)
		r.collector.RecordActiveSessions(len(r.cores))
	}
	r.mu.Unlock()

	if ok {
		core.close()
		r.logger.Info("セッションコアを破棄しました",
			slog.String("session_id", id),
		)
	}
}

// Len は現在のコア数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cores)
}

// Sweep はTTLを超過してアクセスのないコアを破棄し、破棄数を返す。
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Core
	for id, core := range r.cores {
		if now.Sub(core.lastAccess) > r.ttl {
			delete(r.cores, id)
			expired = append(expired, core)
		}
	}
	if len(expired) > 0 {
		r.collector.RecordActiveSessions(len(r.cores))
	}
	remaining := len(r.cores)
	r.mu.Unlock()

	for _, core := range expired {
		core.close()
	}
	if len(expired) > 0 {
		r.logger.Info("期限切れのセッションコアを破棄しました",
			slog.Int("evicted", len(expired)),
			slog.Int("active_cores", remaining),
		)
	}
	return len(expired)
}

// StartSweeper は定期的にSweepを実行するゴルーチンを起動する。
// コンテキストのキャンセルで停止する。
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}

// Close は全コアを破棄する。サーバーのシャットダウン時に呼ばれる。
func (r *Registry) Close() {
	r.mu.Lock()
	cores := make([]*Core, 0, len(r.cores))
	for _, core := range r.cores {
		cores = append(cores, core)
	}
	r.cores = make(map[string]*Core)
	r.mu.Unlock()

	for _, core := range cores {
		core.close()
	}
	r.collector.RecordActiveSessions(0)
}
