package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/identity"
	"github.com/synoptic/shopcore/internal/metrics"
	"github.com/synoptic/shopcore/internal/model"
)

// State はリコンサイラーの状態を表す。
type State int

const (
	// StateIdle は未認証。カートのアカウント連携意図を持たない。
	StateIdle State = iota
	// StateAuthenticating は認証メソッドチェーンの実行中。
	StateAuthenticating
	// StateAssociated はカートが現在のユーザーのアカウントに連携済み。
	StateAssociated
	// StateFailed はチェーン全体が失敗した状態。リトライ回数を保持する。
	StateFailed
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateAssociated:
		return "associated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status はリコンサイラーの観測可能な状態のスナップショット。
type Status struct {
	State      State
	RetryCount int
	Account    *model.CommerceAccount // Associated時のみ非nil
	Err        error                  // リトライ上限到達後の最終エラー
}

// Config はリコンサイラーの動作設定。
type Config struct {
	MaxRetries   int           // 自動リトライの上限回数
	BackoffBase  time.Duration // リトライ遅延の基数。n回目の遅延はBackoffBase * n
	AuthWait     time.Duration // WaitForCommerceAuthのソフトタイムアウト
	BridgeSecret string        // 導出パスワードの秘密鍵
}

// errSuperseded は処理中により新しい遷移が到着したことを示す内部エラー。
// 進行中のチェーンの結果は破棄される。
var errSuperseded = errors.New("reconciliation superseded by a newer transition")

type eventKind int

const (
	eventTransition eventKind = iota
	eventRetry
	eventForce
)

type event struct {
	kind    eventKind
	user    *model.IdentityUser
	version uint64
	attempt int
	reply   chan error
}

// Reconciler はID遷移のストリームを順に処理し、カートのアカウント連携を
// 重複なく・リトライ上限付きで維持する。
//
// 遷移イベントは単一のループで逐次処理される。イベントNの処理が完了するか
// 破棄されるまでイベントN+1の処理は開始しない。遷移の取り込み時点で
// 最新バージョンが記録されるため、進行中のチェーンは副作用の適用前に
// 自分が古くなっていないかを確認できる。
type Reconciler struct {
	api         commerce.API
	cartSession *commerce.Session
	config      Config
	logger      *slog.Logger
	collector   metrics.MetricsCollector

	events chan event

	mu            sync.Mutex
	latestVersion uint64
	latestUID     string
	status        Status
	lastUID       string
	settled       chan struct{} // 現在の調整が決着したときに閉じる
	settledDone   bool
	subscribers   map[int]func(Status)
	nextSubID     int
	retryTimer    *time.Timer
}

// NewReconciler はReconciler の新しいインスタンスを生成する。
// Runを呼び出すまでイベントは処理されない。
func NewReconciler(api commerce.API, cartSession *commerce.Session, config Config, collector metrics.MetricsCollector, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		api:         api,
		cartSession: cartSession,
		config:      config,
		logger:      logger,
		collector:   collector,
		events:      make(chan event, 16),
		status:      Status{State: StateIdle},
		settled:     make(chan struct{}),
		subscribers: make(map[int]func(Status)),
	}
}

// OnTransition はID遷移イベントを取り込む。
// IdentitySessionの購読コールバックとして登録する。
// 最新バージョンとユーザーIDの記録は取り込み時点で行われるため、
// 進行中のチェーンは即座に自分の陳腐化を検出できる。
func (r *Reconciler) OnTransition(tr identity.Transition) {
	uid := ""
	if tr.User != nil {
		uid = tr.User.ID
	}
	r.mu.Lock()
	r.latestVersion = tr.Version
	r.latestUID = uid
	r.mu.Unlock()
	r.events <- event{kind: eventTransition, user: tr.User, version: tr.Version}
}

// Run はイベントループを実行する。ctxのキャンセルで停止する。
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.cancelRetry()
			return
		case ev := <-r.events:
			switch ev.kind {
			case eventTransition:
				r.handleTransition(ctx, ev)
			case eventRetry:
				r.handleRetry(ctx, ev)
			case eventForce:
				ev.reply <- r.handleForce(ctx)
			}
		}
	}
}

// Status は現在の状態のスナップショットを返す。
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Subscribe は状態遷移の購読を登録し、購読解除関数を返す。
// 登録時に現在の状態を即座にコールバックする。
func (r *Reconciler) Subscribe(fn func(Status)) func() {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn
	current := r.status
	r.mu.Unlock()

	fn(current)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

// WaitForCommerceAuth は現在の調整が決着するまで待機する。
// 設定されたソフトタイムアウトを超えた場合は待機を打ち切って現在の状態を
// 返す。進行中の呼び出し自体は中断されない。
func (r *Reconciler) WaitForCommerceAuth(ctx context.Context) (Status, error) {
	r.mu.Lock()
	ch := r.settled
	r.mu.Unlock()

	timer := time.NewTimer(r.config.AuthWait)
	defer timer.Stop()

	select {
	case <-ch:
		return r.Status(), nil
	case <-timer.C:
		r.logger.Warn("ストア認証の完了待機がタイムアウトしました",
			slog.Duration("wait", r.config.AuthWait),
		)
		return r.Status(), nil
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
}

// ForceCartAssociation はカートの連携状態を再確認し、ずれていれば
// 連携呼び出しを再発行する。連携済みかつ一致している場合は何もしない。
func (r *Reconciler) ForceCartAssociation(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.events <- event{kind: eventForce, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isStale はキャプチャした遷移が別ユーザーの新しい遷移に追い越されたかを返す。
// 同一ユーザーの重複遷移は進行中のチェーンを無効化しない。
// 進行中の試行の結果がそのまま適用され、重複イベント自体は
// handleTransitionの重複チェックで無視される。
func (r *Reconciler) isStale(version uint64, uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestVersion != version && r.latestUID != uid
}

func (r *Reconciler) setStatus(status Status) {
	r.mu.Lock()
	r.status = status
	fns := make([]func(Status), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// openSettledLocked は未決着の調整の開始を記録する。
func (r *Reconciler) openSettled() {
	r.mu.Lock()
	if r.settledDone {
		r.settled = make(chan struct{})
		r.settledDone = false
	}
	r.mu.Unlock()
}

// settle は現在の調整の決着を通知する。
func (r *Reconciler) settle() {
	r.mu.Lock()
	if !r.settledDone {
		close(r.settled)
		r.settledDone = true
	}
	r.mu.Unlock()
}

func (r *Reconciler) cancelRetry() {
	r.mu.Lock()
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.mu.Unlock()
}

func (r *Reconciler) handleTransition(ctx context.Context, ev event) {
	if ev.user == nil {
		r.enterIdle(ctx)
		return
	}

	r.mu.Lock()
	duplicate := ev.user.ID == r.lastUID && (r.status.State == StateAuthenticating || r.status.State == StateAssociated)
	r.mu.Unlock()
	if duplicate {
		r.logger.Debug("同一ユーザーの重複遷移を無視します", slog.String("uid", ev.user.ID))
		return
	}

	r.cancelRetry()
	r.mu.Lock()
	r.lastUID = ev.user.ID
	r.mu.Unlock()

	r.runChain(ctx, ev.user, ev.version, 0)
}

func (r *Reconciler) handleRetry(ctx context.Context, ev event) {
	if r.isStale(ev.version, ev.user.ID) {
		r.logger.Debug("陳腐化したリトライを破棄します", slog.Uint64("version", ev.version))
		return
	}

	r.mu.Lock()
	failed := r.status.State == StateFailed
	r.mu.Unlock()
	if !failed {
		return
	}

	r.logger.Info("アカウント連携をリトライします",
		slog.String("uid", ev.user.ID),
		slog.Int("attempt", ev.attempt),
	)
	r.runChain(ctx, ev.user, ev.version, ev.attempt)
}

// enterIdle はサインアウト遷移を処理する。
// ローカルのアカウント参照を破棄し、ストアからもログアウトする。
// カート自体は削除しない。
func (r *Reconciler) enterIdle(ctx context.Context) {
	r.cancelRetry()

	r.mu.Lock()
	wasSignedIn := r.lastUID != ""
	r.lastUID = ""
	r.mu.Unlock()

	if wasSignedIn {
		if err := r.api.Logout(ctx); err != nil {
			r.logger.Warn("ストアからのログアウトに失敗しました", slog.String("error", err.Error()))
		}
		r.collector.RecordReconcileOutcome("idle")
	}

	r.setStatus(Status{State: StateIdle})
	r.settle()
}

// runChain は認証メソッドチェーンを1回実行し、結果に応じて状態を遷移する。
func (r *Reconciler) runChain(ctx context.Context, user *model.IdentityUser, version uint64, attempt int) {
	r.openSettled()
	r.setStatus(Status{State: StateAuthenticating, RetryCount: attempt})

	account, err := r.authenticate(ctx, user, version)

	if errors.Is(err, errSuperseded) || r.isStale(version, user.ID) {
		// より新しい遷移がキューにある。結果は適用せず後続の遷移に委ねる
		r.logger.Info("陳腐化した連携結果を破棄します",
			slog.String("uid", user.ID),
			slog.Uint64("version", version),
		)
		r.collector.RecordReconcileOutcome("superseded")
		return
	}

	if err == nil {
		r.logger.Info("アカウント連携が完了しました",
			slog.String("uid", user.ID),
			slog.String("account_id", account.ID),
			slog.Bool("guest", account.IsGuest),
		)
		r.collector.RecordReconcileOutcome("associated")
		r.setStatus(Status{State: StateAssociated, Account: account})
		r.settle()
		return
	}

	r.logger.Error("認証メソッドチェーンが失敗しました",
		slog.String("uid", user.ID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)

	if attempt >= r.config.MaxRetries {
		// リトライ上限到達。次のID遷移まで自動リトライしない
		r.collector.RecordRetryExhausted()
		r.collector.RecordReconcileOutcome("failed")
		r.setStatus(Status{State: StateFailed, RetryCount: attempt, Err: model.NewReconcileFailedError()})
		r.settle()
		return
	}

	r.setStatus(Status{State: StateFailed, RetryCount: attempt})

	next := attempt + 1
	delay := r.config.BackoffBase * time.Duration(next)
	r.mu.Lock()
	r.retryTimer = time.AfterFunc(delay, func() {
		// ループ停止後やバッファ満杯時はリトライを破棄する。
		// 送信をブロックするとタイマーのゴルーチンが残留する
		select {
		case r.events <- event{kind: eventRetry, user: user, version: version, attempt: next}:
		default:
			r.logger.Debug("リトライイベントを破棄します", slog.Uint64("version", version))
		}
	})
	r.mu.Unlock()
}

// authenticate はコマースアカウントへの到達を3手段で順に試みる。
// (1) 導出パスワードでのログイン、(2) アカウント新規作成、
// (3) メールアドレスによるゲスト連携。最初に成功した手段の結果を返す。
func (r *Reconciler) authenticate(ctx context.Context, user *model.IdentityUser, version uint64) (*model.CommerceAccount, error) {
	derived := DeriveCredential(r.config.BridgeSecret, user.ID)

	r.collector.RecordReconcileAttempt("login")
	account, loginErr := r.api.Login(ctx, user.Email, derived)
	if loginErr == nil {
		return r.ensureCartAssociation(ctx, user, account, version)
	}
	r.logger.Debug("ストアログインに失敗しました。アカウント作成を試みます",
		slog.String("uid", user.ID),
		slog.String("error", loginErr.Error()),
	)
	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	r.collector.RecordReconcileAttempt("create_account")
	account, createErr := r.api.CreateAccount(ctx, model.AccountProfile{
		Email:     user.Email,
		Password:  derived,
		FirstName: user.FirstName(),
		LastName:  user.LastName(),
	})
	if createErr == nil {
		return r.ensureCartAssociation(ctx, user, account, version)
	}
	r.logger.Debug("アカウント作成に失敗しました。ゲスト連携を試みます",
		slog.String("uid", user.ID),
		slog.String("error", createErr.Error()),
	)
	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	r.collector.RecordReconcileAttempt("guest_association")
	account, guestErr := r.guestAssociation(ctx, user, version)
	if guestErr == nil {
		return account, nil
	}

	return nil, fmt.Errorf("all authentication methods failed: %w",
		errors.Join(loginErr, createErr, guestErr))
}

// ensureCartAssociation は認証成功後にカートの連携を確認し、
// 連携されていなければ連携呼び出しを発行する。
// カートが未作成の場合は何もしない（最初の商品追加時に自然に連携される）。
func (r *Reconciler) ensureCartAssociation(ctx context.Context, user *model.IdentityUser, account *model.CommerceAccount, version uint64) (*model.CommerceAccount, error) {
	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	cart, err := r.api.GetCart(ctx)
	if err != nil {
		// 認証自体は成功している。連携の確認は後続のforce呼び出しで補える
		r.logger.Warn("連携確認のためのカート取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return account, nil
	}
	if cart == nil || cart.AccountID == account.ID {
		// 連携済みのカートはスナップショットとして取り込む。
		// ビューはスナップショット上のaccount_idから連携状態を導出する
		if cart != nil && !r.isStale(version, user.ID) {
			r.cartSession.AdoptCart(cart)
		}
		return account, nil
	}

	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	updated, err := r.api.SetCartAccount(ctx, user.Email)
	if err != nil {
		r.logger.Warn("カートのアカウント連携に失敗しました",
			slog.String("error", err.Error()),
		)
		return account, nil
	}

	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}
	if updated != nil {
		r.cartSession.AdoptCart(updated)
	}
	return account, nil
}

// guestAssociation はアカウントを作成せず、メールアドレスでカートを
// ゲスト連携する。カートが未作成の場合は成功扱いで何もしない。
func (r *Reconciler) guestAssociation(ctx context.Context, user *model.IdentityUser, version uint64) (*model.CommerceAccount, error) {
	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	cart, err := r.api.GetCart(ctx)
	if err != nil {
		return nil, err
	}

	guest := &model.CommerceAccount{
		ID:      "guest_" + user.ID,
		Email:   user.Email,
		IsGuest: true,
	}
	if cart == nil {
		return guest, nil
	}

	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}

	updated, err := r.api.SetCartAccount(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if updated != nil && updated.AccountID != "" {
		guest.ID = updated.AccountID
	}

	if r.isStale(version, user.ID) {
		return nil, errSuperseded
	}
	if updated != nil {
		r.cartSession.AdoptCart(updated)
	}
	return guest, nil
}

// handleForce は連携状態の再確認要求を処理する。
func (r *Reconciler) handleForce(ctx context.Context) error {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	switch status.State {
	case StateAuthenticating:
		// 連携処理が進行中。完了に委ねる
		return nil
	case StateIdle:
		return model.NewUnauthorizedError()
	case StateFailed:
		return model.NewReconcileFailedError()
	}

	// 最終既知スナップショットで一致を確認できればリモート呼び出しは不要
	cart := r.cartSession.Cart()
	if cart == nil || cart.AccountID == status.Account.ID {
		return nil
	}

	r.logger.Info("カート連携のずれを検出しました。再連携します",
		slog.String("cart_account_id", cart.AccountID),
		slog.String("account_id", status.Account.ID),
	)

	updated, err := r.api.SetCartAccount(ctx, status.Account.Email)
	if err != nil {
		return err
	}
	r.cartSession.AdoptCart(updated)
	return nil
}
