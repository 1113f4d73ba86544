// Package orders は注文履歴の参照機能を提供する。
package orders

import (
	"context"
	"log/slog"

	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/reconcile"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Service は注文一覧と注文詳細の取得を提供する。
// 注文はログイン済みのコマースアカウントに紐づくため、取得前に
// アカウント連携の決着を待つ。ゲスト連携のアカウントは注文を参照できない。
type Service struct {
	api        commerce.API
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// NewService はService の新しいインスタンスを生成する。
func NewService(api commerce.API, reconciler *reconcile.Reconciler, logger *slog.Logger) *Service {
	return &Service{
		api:        api,
		reconciler: reconciler,
		logger:     logger,
	}
}

// requireAccount は連携の決着を待ち、注文参照が可能なアカウントかを確認する。
func (s *Service) requireAccount(ctx context.Context) error {
	status, err := s.reconciler.WaitForCommerceAuth(ctx)
	if err != nil {
		return err
	}
	if status.State != reconcile.StateAssociated || status.Account.IsGuest {
		return model.NewUnauthorizedError()
	}
	return nil
}

// List はログイン中アカウントの注文一覧を取得する。
// ページ番号と件数は範囲外の場合にデフォルト値へ丸める。
func (s *Service) List(ctx context.Context, query commerce.OrderQuery) (*model.OrderPage, error) {
	if err := s.requireAccount(ctx); err != nil {
		return nil, err
	}

	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 || query.Limit > maxPageSize {
		query.Limit = defaultPageSize
	}

	page, err := s.api.ListOrders(ctx, query)
	if err != nil {
		s.logger.Error("注文一覧の取得に失敗しました",
			slog.Int("page", query.Page),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return page, nil
}

// Get は注文を1件取得する。
func (s *Service) Get(ctx context.Context, orderID string) (*model.Order, error) {
	if err := s.requireAccount(ctx); err != nil {
		return nil, err
	}

	order, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("注文の取得に失敗しました",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return order, nil
}
