// Package cartview はカートの表示用派生状態を提供する。
// コマースセッションとリコンサイラーの遷移を購読し、
// 再計算した状態を購読者へブロードキャストする。
package cartview

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/identity"
	"github.com/synoptic/shopcore/internal/metrics"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/reconcile"
)

// ViewState はUIへ公開する派生状態のスナップショット。
type ViewState struct {
	Cart              *model.Cart
	ItemCount         int
	Subtotal          float64
	FormattedSubtotal string
	IsLoading         bool
	IsAuthenticated   bool
	IsAssociated      bool
	ReconcileState    reconcile.State
	ReconcileErr      error // リトライ上限到達後のみ非nil
}

// ViewModel はカート・認証・連携の各状態から表示用状態を導出する。
// 独自の状態はロード中カウンタのみで、それ以外はすべて購読元から
// 再計算される。
type ViewModel struct {
	cart       *commerce.Session
	reconciler *reconcile.Reconciler
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	mu            sync.Mutex
	loading       int
	authenticated bool
	subscribers   map[int]func(ViewState)
	nextSubID     int
	unsubs        []func()
}

// NewViewModel はViewModel を生成し、各構成要素の購読を開始する。
func NewViewModel(cart *commerce.Session, reconciler *reconcile.Reconciler, idSession *identity.Session, collector metrics.MetricsCollector, logger *slog.Logger) *ViewModel {
	vm := &ViewModel{
		cart:        cart,
		reconciler:  reconciler,
		collector:   collector,
		logger:      logger,
		subscribers: make(map[int]func(ViewState)),
	}

	// 認証状態は遷移イベントの値から保持する。IdentitySessionは購読
	// コールバック中の呼び返しを許さないため、ここでは読み返さない。
	vm.unsubs = append(vm.unsubs,
		cart.Subscribe(func(*model.Cart) { vm.broadcast() }),
		reconciler.Subscribe(func(reconcile.Status) { vm.broadcast() }),
		idSession.Subscribe(func(tr identity.Transition) {
			vm.mu.Lock()
			vm.authenticated = tr.User != nil
			vm.mu.Unlock()
			vm.broadcast()
		}),
	)

	return vm
}

// Close は購読元からの購読を解除する。
func (vm *ViewModel) Close() {
	for _, unsub := range vm.unsubs {
		unsub()
	}
}

// State は現在の派生状態を返す。
func (vm *ViewModel) State() ViewState {
	vm.mu.Lock()
	loading := vm.loading > 0
	authenticated := vm.authenticated
	vm.mu.Unlock()

	cart := vm.cart.Cart()
	status := vm.reconciler.Status()

	return ViewState{
		Cart:              cart,
		ItemCount:         cart.ItemCount(),
		Subtotal:          cartSubtotal(cart),
		FormattedSubtotal: FormatAmount(cartCurrency(cart), cartSubtotal(cart)),
		IsLoading:         loading,
		IsAuthenticated:   authenticated,
		IsAssociated:      cart.IsAssociated(),
		ReconcileState:    status.State,
		ReconcileErr:      status.Err,
	}
}

// Subscribe は派生状態の更新購読を登録し、購読解除関数を返す。
// 登録時に現在の状態を即座にコールバックする。
func (vm *ViewModel) Subscribe(fn func(ViewState)) func() {
	vm.mu.Lock()
	id := vm.nextSubID
	vm.nextSubID++
	vm.subscribers[id] = fn
	vm.mu.Unlock()

	fn(vm.State())

	return func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		delete(vm.subscribers, id)
	}
}

func (vm *ViewModel) broadcast() {
	state := vm.State()

	vm.mu.Lock()
	fns := make([]func(ViewState), 0, len(vm.subscribers))
	for _, fn := range vm.subscribers {
		fns = append(fns, fn)
	}
	vm.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// beginLoading はロード中カウンタをインクリメントする。
func (vm *ViewModel) beginLoading() {
	vm.mu.Lock()
	vm.loading++
	vm.mu.Unlock()
	vm.broadcast()
}

// endLoading はロード中カウンタをデクリメントする。0未満にはならない。
func (vm *ViewModel) endLoading() {
	vm.mu.Lock()
	if vm.loading > 0 {
		vm.loading--
	}
	vm.mu.Unlock()
	vm.broadcast()
}

// command はコマース呼び出しをロード中カウンタとメトリクスで包む。
func (vm *ViewModel) command(operation string, call func() (*model.Cart, error)) (*model.Cart, error) {
	vm.beginLoading()
	defer vm.endLoading()

	cart, err := call()
	if err != nil {
		vm.collector.RecordCartMutationFailure(operation, model.FailureKindOf(err).String())
		vm.logger.Debug("カートコマンドが失敗しました",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	vm.collector.RecordCartMutation(operation)
	return cart, nil
}

// AddItem はカートに商品を追加する。
func (vm *ViewModel) AddItem(ctx context.Context, input commerce.ItemInput) (*model.Cart, error) {
	return vm.command("add_item", func() (*model.Cart, error) {
		return vm.cart.AddItem(ctx, input)
	})
}

// RemoveItem はカートから商品を削除する。
func (vm *ViewModel) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	return vm.command("remove_item", func() (*model.Cart, error) {
		return vm.cart.RemoveItem(ctx, itemID)
	})
}

// UpdateItemQuantity はカート項目の数量を変更する。数量0は削除として扱う。
func (vm *ViewModel) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	return vm.command("update_item", func() (*model.Cart, error) {
		return vm.cart.UpdateItemQuantity(ctx, itemID, quantity)
	})
}

// Clear はカートの全商品を削除する。
func (vm *ViewModel) Clear(ctx context.Context) (*model.Cart, error) {
	return vm.command("clear", func() (*model.Cart, error) {
		return vm.cart.Clear(ctx)
	})
}

// Refresh はカートを再取得する。
func (vm *ViewModel) Refresh(ctx context.Context) (*model.Cart, error) {
	vm.beginLoading()
	defer vm.endLoading()
	return vm.cart.Refresh(ctx)
}

// ForceAssociation はカートの連携状態の再確認をリコンサイラーに要求する。
func (vm *ViewModel) ForceAssociation(ctx context.Context) error {
	vm.beginLoading()
	defer vm.endLoading()
	return vm.reconciler.ForceCartAssociation(ctx)
}

func cartSubtotal(cart *model.Cart) float64 {
	if cart == nil {
		return 0
	}
	return cart.Subtotal
}

func cartCurrency(cart *model.Cart) string {
	if cart == nil {
		return ""
	}
	return cart.Currency
}

// FormatAmount は通貨コードに応じて金額を表示用に整形する。
func FormatAmount(currency string, amount float64) string {
	switch currency {
	case "JPY":
		return "¥" + groupThousands(strconv.FormatInt(int64(amount), 10))
	case "USD":
		return "$" + fmt.Sprintf("%.2f", amount)
	case "":
		return fmt.Sprintf("%.2f", amount)
	default:
		return fmt.Sprintf("%.2f %s", amount, currency)
	}
}

// groupThousands は整数文字列に3桁区切りのカンマを挿入する。
func groupThousands(s string) string {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
