package push

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/synoptic/shopcore/internal/model"
	"github.com/synoptic/shopcore/internal/repository"
)

// mockTokenRepo はテスト用のDeviceTokenRepositoryモック。
type mockTokenRepo struct {
	upsertFunc      func(ctx context.Context, token *model.DeviceToken) error
	findByUIDFunc   func(ctx context.Context, identityUID string) ([]*model.DeviceToken, error)
	deleteFunc      func(ctx context.Context, identityUID, platform string) error
	deleteStaleFunc func(ctx context.Context, retentionDays int) (int64, error)
}

func (m *mockTokenRepo) Upsert(ctx context.Context, token *model.DeviceToken) error {
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, token)
	}
	return nil
}

func (m *mockTokenRepo) FindByUID(ctx context.Context, identityUID string) ([]*model.DeviceToken, error) {
	if m.findByUIDFunc != nil {
		return m.findByUIDFunc(ctx, identityUID)
	}
	return []*model.DeviceToken{}, nil
}

func (m *mockTokenRepo) DeleteByUIDAndPlatform(ctx context.Context, identityUID, platform string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, identityUID, platform)
	}
	return nil
}

func (m *mockTokenRepo) DeleteStale(ctx context.Context, retentionDays int) (int64, error) {
	if m.deleteStaleFunc != nil {
		return m.deleteStaleFunc(ctx, retentionDays)
	}
	return 0, nil
}

var _ repository.DeviceTokenRepository = (*mockTokenRepo)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestRegister_UpsertsToken は登録がUpsertに正しい値を渡すことをテストする。
func TestRegister_UpsertsToken(t *testing.T) {
	var saved *model.DeviceToken
	repo := &mockTokenRepo{
		upsertFunc: func(ctx context.Context, token *model.DeviceToken) error {
			saved = token
			return nil
		},
	}
	svc := NewService(repo, discardLogger())

	record, err := svc.Register(context.Background(), "uid-1", "apns-token-abc", PlatformIOS)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if saved == nil {
		t.Fatal("Upsertが呼ばれるべき")
	}
	if saved.IdentityUID != "uid-1" || saved.Token != "apns-token-abc" || saved.Platform != "ios" {
		t.Errorf("予期しない保存内容: %+v", saved)
	}
	if saved.ID == "" {
		t.Error("トークンIDが採番されるべき")
	}
	if record.ID != saved.ID {
		t.Error("戻り値と保存内容のIDが一致すべき")
	}
}

// TestRegister_Validation は不正な入力が登録前に拒否されることをテストする。
func TestRegister_Validation(t *testing.T) {
	upserts := 0
	repo := &mockTokenRepo{
		upsertFunc: func(ctx context.Context, token *model.DeviceToken) error {
			upserts++
			return nil
		},
	}
	svc := NewService(repo, discardLogger())

	cases := []struct {
		name     string
		uid      string
		token    string
		platform string
		wantCode string
	}{
		{"UIDなし", "", "tok", "ios", model.ErrCodeUnauthorized},
		{"トークンなし", "uid-1", "", "ios", model.ErrCodeTokenRequired},
		{"不正プラットフォーム", "uid-1", "tok", "windows", model.ErrCodeValidationError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.uid, tc.token, tc.platform)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tc.wantCode {
				t.Errorf("期待コード: %s, 結果: %v", tc.wantCode, err)
			}
		})
	}

	if upserts != 0 {
		t.Errorf("不正入力ではUpsertは呼ばれるべきではない: %d 回", upserts)
	}
}

// TestStatus_IncludesUnregisteredPlatforms は未登録プラットフォームも状態に含まれることをテストする。
func TestStatus_IncludesUnregisteredPlatforms(t *testing.T) {
	registeredAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockTokenRepo{
		findByUIDFunc: func(ctx context.Context, identityUID string) ([]*model.DeviceToken, error) {
			return []*model.DeviceToken{
				{ID: "t-1", IdentityUID: identityUID, Token: "tok", Platform: "ios", RegisteredAt: registeredAt, UpdatedAt: registeredAt},
			}, nil
		},
	}
	svc := NewService(repo, discardLogger())

	statuses, err := svc.Status(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("期待: 2プラットフォーム, 結果: %d", len(statuses))
	}
	if !statuses[0].Registered || statuses[0].Platform != "ios" {
		t.Errorf("iosは登録済みであるべき: %+v", statuses[0])
	}
	if !statuses[0].RegisteredAt.Equal(registeredAt) {
		t.Errorf("登録日時が保持されるべき: %v", statuses[0].RegisteredAt)
	}
	if statuses[1].Registered || statuses[1].Platform != "android" {
		t.Errorf("androidは未登録であるべき: %+v", statuses[1])
	}
}

// TestStatus_RequiresUID はUIDなしの照会が拒否されることをテストする。
func TestStatus_RequiresUID(t *testing.T) {
	svc := NewService(&mockTokenRepo{}, discardLogger())

	_, err := svc.Status(context.Background(), "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("UNAUTHORIZEDエラーが返るべき: %v", err)
	}
}

// TestUnregister_Idempotent は未登録のトークン削除も成功することをテストする。
func TestUnregister_Idempotent(t *testing.T) {
	var gotUID, gotPlatform string
	repo := &mockTokenRepo{
		deleteFunc: func(ctx context.Context, identityUID, platform string) error {
			gotUID = identityUID
			gotPlatform = platform
			return nil
		},
	}
	svc := NewService(repo, discardLogger())

	if err := svc.Unregister(context.Background(), "uid-1", PlatformAndroid); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if gotUID != "uid-1" || gotPlatform != "android" {
		t.Errorf("削除条件が渡されるべき: uid=%s platform=%s", gotUID, gotPlatform)
	}
}

// TestRegister_RepositoryError はリポジトリのエラーが伝播することをテストする。
func TestRegister_RepositoryError(t *testing.T) {
	repoErr := errors.New("connection refused")
	repo := &mockTokenRepo{
		upsertFunc: func(ctx context.Context, token *model.DeviceToken) error {
			return repoErr
		},
	}
	svc := NewService(repo, discardLogger())

	_, err := svc.Register(context.Background(), "uid-1", "tok", PlatformIOS)
	if !errors.Is(err, repoErr) {
		t.Errorf("リポジトリのエラーが伝播すべき: %v", err)
	}
}
