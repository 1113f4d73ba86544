// Package identity はIDプロバイダーの認証セッション管理を提供する。
// 現在のユーザー状態の保持と、状態遷移の購読者への通知を行う。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/synoptic/shopcore/internal/model"
)

// TokenVerifier はIDトークンを検証し、ユーザー情報を取得するインターフェース。
// 将来的に複数IdPに対応するための抽象化。
type TokenVerifier interface {
	// Verify はIDトークンを検証し、対応するユーザーのスナップショットを返す。
	Verify(ctx context.Context, idToken string) (*model.IdentityUser, error)
}

// Transition は認証状態の1回の遷移を表す。
// Versionは遷移ごとに単調増加し、途中で追い越された処理の
// 陳腐化判定（staleness check）に使用する。
type Transition struct {
	User    *model.IdentityUser // サインアウトの場合はnil
	Version uint64
}

// Session は1ブラウザセッション分の認証状態を保持する。
// ユーザースナップショットはイミュータブルな値として丸ごと差し替えられる。
type Session struct {
	verifier TokenVerifier
	logger   *slog.Logger

	mu          sync.Mutex
	current     *model.IdentityUser
	version     uint64
	determined  bool
	readyCh     chan struct{}
	subscribers map[int]func(Transition)
	nextSubID   int
}

// NewSession はSessionを生成する。
// 生成直後は認証状態が未確定。Determineを呼ぶか最初のSignInで確定する。
func NewSession(verifier TokenVerifier, logger *slog.Logger) *Session {
	return &Session{
		verifier:    verifier,
		logger:      logger,
		readyCh:     make(chan struct{}),
		subscribers: make(map[int]func(Transition)),
	}
}

// Determine は認証状態を「未認証」として初回確定する。
// 新規セッションには保持済みの認証情報がないため、起動時に1回呼ぶ。
// すでに確定済みの場合は何もしない。
func (s *Session) Determine() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.determined {
		return
	}
	s.transitionLocked(nil)
}

// SignIn はIDトークンを検証し、認証済み状態へ遷移する。
// 検証失敗の場合は状態を変更せずエラーを返す。
func (s *Session) SignIn(ctx context.Context, idToken string) (*model.IdentityUser, error) {
	if idToken == "" {
		return nil, fmt.Errorf("ID token is required")
	}

	user, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(user)

	s.logger.Info("サインインしました",
		slog.String("uid", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// SignOut は未認証状態へ遷移する。
// すでに未認証の場合でも遷移イベントは発火する（プロバイダーのイベント単位を保つ）。
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.logger.Info("サインアウトしました", slog.String("uid", s.current.ID))
	}
	s.transitionLocked(nil)
}

// Subscribe は認証状態遷移の購読を登録し、購読解除関数を返す。
// すでに初回確定済みの場合は、現在の状態を遷移として即座にコールバックする。
// コールバックは遷移順に呼ばれる。コールバック内からSessionを呼び出してはならない。
func (s *Session) Subscribe(fn func(Transition)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	var initial *Transition
	if s.determined {
		initial = &Transition{User: s.current, Version: s.version}
	}
	s.mu.Unlock()

	if initial != nil {
		fn(*initial)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// WaitForReady は初回の認証状態確定まで待機し、確定時点の状態を返す。
// すでに確定済みの場合は即座に返る。複数の呼び出し元が同時に待機できる。
func (s *Session) WaitForReady(ctx context.Context) (model.AuthState, error) {
	select {
	case <-s.readyCh:
	case <-ctx.Done():
		return model.AuthState{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return model.AuthState{
		User:            s.current,
		IsAuthenticated: s.current != nil,
	}, nil
}

// CurrentUser は現在のユーザースナップショットを返す。未認証の場合はnil。
func (s *Session) CurrentUser() *model.IdentityUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Version は現在の遷移バージョンを返す。
// 非同期処理の開始時に取得し、副作用適用前の陳腐化判定に使用する。
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// IsAuthenticated は認証済みかを返す。
func (s *Session) IsAuthenticated() bool {
	return s.CurrentUser() != nil
}

// transitionLocked は状態を遷移させ、購読者へ通知する。
// 呼び出し元がs.muを保持していること。
// 初回遷移でreadyChをcloseし、WaitForReadyの待機者を解放する。
func (s *Session) transitionLocked(user *model.IdentityUser) {
	s.version++
	s.current = user

	if !s.determined {
		s.determined = true
		close(s.readyCh)
	}

	tr := Transition{User: user, Version: s.version}
	for _, fn := range s.subscribers {
		fn(tr)
	}
}
