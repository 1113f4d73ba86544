package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/synoptic/shopcore/internal/model"
)

// PostgresDeviceTokenRepo はPostgreSQLを使用したデバイストークンリポジトリ。
type PostgresDeviceTokenRepo struct {
	db *sql.DB
}

// NewPostgresDeviceTokenRepo はPostgresDeviceTokenRepoを生成する。
func NewPostgresDeviceTokenRepo(db *sql.DB) *PostgresDeviceTokenRepo {
	return &PostgresDeviceTokenRepo{db: db}
}

// Upsert はデバイストークンを登録する。
// 同一identity_uid・同一platformの既存行はトークンを上書き更新する。
func (r *PostgresDeviceTokenRepo) Upsert(ctx context.Context, token *model.DeviceToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_tokens (id, identity_uid, token, platform, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identity_uid, platform)
		 DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`,
		token.ID, token.IdentityUID, token.Token, token.Platform, token.RegisteredAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device token: %w", err)
	}
	return nil
}

// FindByUID は指定identity UIDの登録済みトークン一覧を取得する。
func (r *PostgresDeviceTokenRepo) FindByUID(ctx context.Context, identityUID string) ([]*model.DeviceToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity_uid, token, platform, registered_at, updated_at
		 FROM device_tokens WHERE identity_uid = $1 ORDER BY platform`,
		identityUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*model.DeviceToken{}
	for rows.Next() {
		token := &model.DeviceToken{}
		if err := rows.Scan(
			&token.ID, &token.IdentityUID, &token.Token,
			&token.Platform, &token.RegisteredAt, &token.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device tokens: %w", err)
	}

	return tokens, nil
}

// DeleteByUIDAndPlatform は指定UID・プラットフォームのトークンを削除する。
func (r *PostgresDeviceTokenRepo) DeleteByUIDAndPlatform(ctx context.Context, identityUID, platform string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE identity_uid = $1 AND platform = $2`,
		identityUID, platform,
	)
	if err != nil {
		return fmt.Errorf("failed to delete device token: %w", err)
	}
	return nil
}

// DeleteStale は最終更新がretentionDays日前より古いトークンを削除し、削除件数を返す。
func (r *PostgresDeviceTokenRepo) DeleteStale(ctx context.Context, retentionDays int) (int64, error) {
	interval := fmt.Sprintf("%d days", retentionDays)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE updated_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale device tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ DeviceTokenRepository = (*PostgresDeviceTokenRepo)(nil)
