// Package push はモバイルシェルが登録するプッシュ通知用
// デバイストークンの登録・照会を提供する。
// トークンはIDプロバイダーのUIDに紐付けてPostgresに保存され、
// プッシュ配信そのものはこのサービスの範囲外。
package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/repository"
)

// 対応プラットフォーム
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// TokenStatus はプラットフォームごとの登録状態を表す。
type TokenStatus struct {
	Platform     string    `json:"platform"`
	Registered   bool      `json:"registered"`
	RegisteredAt time.Time `json:"registered_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// Service はデバイストークンの登録・照会サービス。
type Service struct {
	repo   repository.DeviceTokenRepository
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DeviceTokenRepository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register はデバイストークンを登録する。
// 同一UID・同一プラットフォームの再登録はトークンの上書きとして扱う。
func (s *Service) Register(ctx context.Context, identityUID, token, platform string) (*model.DeviceToken, error) {
	if identityUID == "" {
		return nil, model.NewUnauthorizedError()
	}
	if token == "" {
		return nil, model.NewTokenRequiredError()
	}
	if platform != PlatformIOS && platform != PlatformAndroid {
		return nil, &model.APIError{
			Code:     model.ErrCodeValidationError,
			Message:  "対応していないプラットフォームです",
			Category: "validation",
			Action:   "ios または android を指定してください",
		}
	}

	now := time.Now()
	record := &model.DeviceToken{
		ID:           uuid.New().String(),
		IdentityUID:  identityUID,
		Token:        token,
		Platform:     platform,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	if err := s.repo.Upsert(ctx, record); err != nil {
		s.logger.Error("デバイストークンの登録に失敗しました",
			slog.String("identity_uid", identityUID),
			slog.String("platform", platform),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("デバイストークンを登録しました",
		slog.String("identity_uid", identityUID),
		slog.String("platform", platform),
	)
	return record, nil
}

// Status は指定UIDのプラットフォームごとの登録状態を返す。
// 未登録のプラットフォームもRegistered=falseで含まれる。
func (s *Service) Status(ctx context.Context, identityUID string) ([]TokenStatus, error) {
	if identityUID == "" {
		return nil, model.NewUnauthorizedError()
	}

	tokens, err := s.repo.FindByUID(ctx, identityUID)
	if err != nil {
		s.logger.Error("デバイストークンの照会に失敗しました",
			slog.String("identity_uid", identityUID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	byPlatform := make(map[string]*model.DeviceToken, len(tokens))
	for _, token := range tokens {
		byPlatform[token.Platform] = token
	}

	statuses := make([]TokenStatus, 0, 2)
	for _, platform := range []string{PlatformIOS, PlatformAndroid} {
		status := TokenStatus{Platform: platform}
		if token, ok := byPlatform[platform]; ok {
			status.Registered = true
			status.RegisteredAt = token.RegisteredAt
			status.UpdatedAt = token.UpdatedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Unregister は指定UID・プラットフォームのトークンを削除する。
// 未登録の場合も成功として扱う（冪等）。
func (s *Service) Unregister(ctx context.Context, identityUID, platform string) error {
	if identityUID == "" {
		return model.NewUnauthorizedError()
	}

	if err := s.repo.DeleteByUIDAndPlatform(ctx, identityUID, platform); err != nil {
		s.logger.Error("デバイストークンの削除に失敗しました",
			slog.String("identity_uid", identityUID),
			slog.String("platform", platform),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Info("デバイストークンを削除しました",
		slog.String("identity_uid", identityUID),
		slog.String("platform", platform),
	)
	return nil
}
