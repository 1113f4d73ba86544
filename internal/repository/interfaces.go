// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/synoptic/shopcore/internal/model"
)

// DeviceTokenRepository はプッシュ通知用デバイストークンの永続化インターフェース。
type DeviceTokenRepository interface {
	// Upsert はデバイストークンを登録する。
	// 同一identity_uid・同一platformの既存行はトークンを上書き更新する。
	Upsert(ctx context.Context, token *model.DeviceToken) error

	// FindByUID は指定identity UIDの登録済みトークン一覧を取得する。
	// 登録がない場合は空スライスを返す。
	FindByUID(ctx context.Context, identityUID string) ([]*model.DeviceToken, error)

	// DeleteByUIDAndPlatform は指定UID・プラットフォームのトークンを削除する。
	// 削除対象がない場合もエラーにしない。
	DeleteByUIDAndPlatform(ctx context.Context, identityUID, platform string) error

	// DeleteStale は最終更新がretentionDays日前より古いトークンを削除し、削除件数を返す。
	DeleteStale(ctx context.Context, retentionDays int) (int64, error)
}
