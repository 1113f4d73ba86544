// Package cleanup はデバイストークンの自動削除ジョブを提供する。
// 保持期間（デフォルト180日）を超過して更新のないトークンを
// 日次バッチで削除する。アプリを削除した端末のトークンを残さないための処理。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StaleTokenDeleter は期限切れトークン削除のインターフェース。
// repository.DeviceTokenRepositoryを抽象化してテスタビリティを向上させる。
type StaleTokenDeleter interface {
	DeleteStale(ctx context.Context, retentionDays int) (int64, error)
}

// CleanupJob は保持期間を超過したデバイストークンの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	repo          StaleTokenDeleter
	logger        *slog.Logger
	RetentionDays int // トークンの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は180日。
func NewCleanupJob(repo StaleTokenDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		RetentionDays: 180,
	}
}

// Run は保持期間を超過したデバイストークンを削除する。
// updated_atがRetentionDays日前より古いトークンをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.repo.DeleteStale(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("デバイストークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("デバイストークンのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("デバイストークンのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
