package commerce

import (
	"context"
	"log/slog"
	"sync"

	"github.com/synoptic/shopcore/internal/model"
)

// API はストアフロントAPIのうちカートセッションが使用する操作。
type API interface {
	GetCart(ctx context.Context) (*model.Cart, error)
	AddItem(ctx context.Context, input ItemInput) (*model.Cart, error)
	UpdateItem(ctx context.Context, itemID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, itemID string) (*model.Cart, error)
	ClearItems(ctx context.Context) (*model.Cart, error)
	SetCartAccount(ctx context.Context, email string) (*model.Cart, error)
	Login(ctx context.Context, email, password string) (*model.CommerceAccount, error)
	CreateAccount(ctx context.Context, profile model.AccountProfile) (*model.CommerceAccount, error)
	Logout(ctx context.Context) error
	CurrentAccount(ctx context.Context) (*model.CommerceAccount, error)
	ListOrders(ctx context.Context, query OrderQuery) (*model.OrderPage, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

var _ API = (*Client)(nil)

// Session はカートの最終既知スナップショットを保持する状態管理。
// 変更操作は成功時のみスナップショットを丸ごと差し替え、
// 失敗時は直前のスナップショットを維持する。
//
// 変更操作は同時に1つだけ実行できる。進行中に別の変更が要求された場合は
// 待機せずCART_BUSYエラーで即座に失敗する。
type Session struct {
	api    API
	logger *slog.Logger

	mu          sync.Mutex
	cart        *model.Cart
	busy        bool
	subscribers map[int]func(*model.Cart)
	nextSubID   int
}

// NewSession はSession の新しいインスタンスを生成する。
func NewSession(api API, logger *slog.Logger) *Session {
	return &Session{
		api:         api,
		logger:      logger,
		subscribers: make(map[int]func(*model.Cart)),
	}
}

// Cart は最終既知のカートスナップショットを返す。未取得の場合はnil。
func (s *Session) Cart() *model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart
}

// Subscribe はカートスナップショットの更新購読を登録し、購読解除関数を返す。
// 登録時に現在のスナップショットを即座にコールバックする。
func (s *Session) Subscribe(fn func(*model.Cart)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	current := s.cart
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// adopt はスナップショットを差し替えて購読者に通知する。
func (s *Session) adopt(cart *model.Cart) {
	s.mu.Lock()
	s.cart = cart
	fns := make([]func(*model.Cart), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(cart)
	}
}

// AdoptCart は外部で取得済みのカートをスナップショットとして採用する。
// アカウント連携の完了後に連携済みカートを反映するために使用する。
func (s *Session) AdoptCart(cart *model.Cart) {
	s.adopt(cart)
}

// beginMutation は変更操作の開始を試みる。
// 別の変更が進行中の場合はfalseを返す。
func (s *Session) beginMutation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) endMutation() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// mutate は変更操作を排他的に実行し、成功時にスナップショットを差し替える。
func (s *Session) mutate(op string, call func() (*model.Cart, error)) (*model.Cart, error) {
	if !s.beginMutation() {
		s.logger.Warn("カート変更操作が競合しました", slog.String("operation", op))
		return nil, model.NewCartBusyError()
	}
	defer s.endMutation()

	cart, err := call()
	if err != nil {
		s.logger.Error("カート変更操作に失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.adopt(cart)
	return cart, nil
}

// Refresh はプロバイダーからカートを再取得してスナップショットを更新する。
func (s *Session) Refresh(ctx context.Context) (*model.Cart, error) {
	cart, err := s.api.GetCart(ctx)
	if err != nil {
		return nil, err
	}
	s.adopt(cart)
	return cart, nil
}

// AddItem はカートに商品を追加する。
// 数量は1以上MaxItemQuantity以下でなければならない。
func (s *Session) AddItem(ctx context.Context, input ItemInput) (*model.Cart, error) {
	if input.Quantity < 1 || input.Quantity > model.MaxItemQuantity {
		return nil, model.NewInvalidQuantityError(input.Quantity)
	}
	return s.mutate("add_item", func() (*model.Cart, error) {
		return s.api.AddItem(ctx, input)
	})
}

// UpdateItemQuantity はカート項目の数量を変更する。
// 数量0は項目の削除として扱う。
func (s *Session) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, itemID)
	}
	if quantity < 0 || quantity > model.MaxItemQuantity {
		return nil, model.NewInvalidQuantityError(quantity)
	}
	return s.mutate("update_item", func() (*model.Cart, error) {
		return s.api.UpdateItem(ctx, itemID, quantity)
	})
}

// RemoveItem はカートから商品を削除する。
func (s *Session) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	return s.mutate("remove_item", func() (*model.Cart, error) {
		return s.api.RemoveItem(ctx, itemID)
	})
}

// Clear はカートの全商品を削除する。
func (s *Session) Clear(ctx context.Context) (*model.Cart, error) {
	return s.mutate("clear", func() (*model.Cart, error) {
		return s.api.ClearItems(ctx)
	})
}
