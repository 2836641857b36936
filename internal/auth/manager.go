// Package auth は認証セッションの状態機械を提供する。
// サインイン・サインアップ・確認コード・パスワード再設定・ソーシャルサインインの
// 各操作を資格情報ディレクトリとセッションストアに対して実行し、観測可能な状態を更新する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/mockauth/internal/metrics"
	"github.com/hitoshi/mockauth/internal/model"
	"github.com/hitoshi/mockauth/internal/repository"
	"github.com/hitoshi/mockauth/internal/security"
	"github.com/hitoshi/mockauth/internal/social"
	"github.com/hitoshi/mockauth/internal/validation"
)

// SimulatedLatency はローカル操作がネットワーク往復を模して待機する時間。
const SimulatedLatency = time.Second

// 操作名。メトリクスのラベルとログに使う。
const (
	OpRehydrate              = "rehydrate"
	OpSignIn                 = "sign_in"
	OpSignUp                 = "sign_up"
	OpConfirmSignUp          = "confirm_sign_up"
	OpForgotPassword         = "forgot_password"
	OpConfirmForgotPassword  = "confirm_forgot_password"
	OpResendConfirmationCode = "resend_confirmation_code"
	OpSignOut                = "sign_out"
	OpSignInWithGoogle       = "sign_in_google"
	OpSignInWithApple        = "sign_in_apple"
)

// errCanceled はソーシャルサインインのキャンセルを操作ラッパーに伝える内部センチネル。
var errCanceled = errors.New("sign-in canceled")

// DelayFunc はdだけ待機する。ctxがキャンセルされた場合はctxのエラーを返す。
type DelayFunc func(ctx context.Context, d time.Duration) error

// Sleep は実時間で待機するDelayFunc。
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SocialBridge はソーシャルサインインを実行し、成功時にセッションストアへ書き込む。
// キャンセル時はnilとnilを返す。
type SocialBridge interface {
	SignInWithGoogle(ctx context.Context) (*social.Identity, error)
	SignInWithApple(ctx context.Context) (*social.Identity, error)
}

// Deps はManagerの依存。Directory と Sessions は必須。
type Deps struct {
	Directory repository.CredentialDirectory
	Sessions  repository.SessionStore
	Social    SocialBridge
	Hasher    security.PasswordHasher
	Sanitizer security.ProfileSanitizerService
	Metrics   metrics.Recorder
	Delay     DelayFunc
}

// Manager は認証操作を実行し、状態を保持する。
// 状態はmutexで保護され、任意のゴルーチンからSnapshotで読み取れる。
// 操作同士の排他は行わないため、二重送信の防止は呼び出し側の責務とする。
type Manager struct {
	deps Deps

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int
}

// NewManager はManagerを生成する。状態はUninitializedで、Rehydrateで初期化する。
func NewManager(deps Deps) *Manager {
	if deps.Hasher == nil {
		deps.Hasher = security.PlainHasher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopRecorder{}
	}
	if deps.Delay == nil {
		deps.Delay = Sleep
	}
	return &Manager{
		deps:        deps,
		state:       State{Status: StatusUninitialized},
		subscribers: make(map[int]func(State)),
	}
}

// Snapshot は現在の状態のスナップショットを返す。
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe は状態が変化するたびにfnを呼び出すよう登録し、登録解除関数を返す。
// fnはロックの外で呼ばれる。
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// update は状態を変更し、購読者に新しいスナップショットを通知する。
func (m *Manager) update(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state.clone()
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// setUser はセッションの有無に合わせて主状態を更新する。
func (m *Manager) setUser(record *model.SessionRecord) {
	m.update(func(s *State) {
		if record == nil {
			s.User = nil
			s.Status = StatusUnauthenticated
			return
		}
		r := *record
		s.User = &r
		s.Status = StatusAuthenticated
	})
	m.deps.Metrics.SetAuthenticated(record != nil)
}

// Rehydrate は資格情報ディレクトリを初期化し、保存済みセッションから状態を復元する。
// 読み取りに失敗した場合は未認証として扱い、Loadingは必ず解除する。
func (m *Manager) Rehydrate(ctx context.Context) {
	start := time.Now()
	if err := m.deps.Directory.InitializeIfEmpty(ctx); err != nil {
		slog.Error("failed to initialize credential directory", slog.String("error", err.Error()))
	}

	m.update(func(s *State) {
		s.Status = StatusLoading
		s.IsLoading = true
	})
	defer m.update(func(s *State) { s.IsLoading = false })

	record, err := m.deps.Sessions.Load(ctx)
	if err != nil {
		slog.Error("failed to load session", slog.String("error", err.Error()))
		m.setUser(nil)
		m.deps.Metrics.RecordOperation(OpRehydrate, outcomeOf(model.NewStorageFaultError(err)), time.Since(start))
		return
	}
	m.setUser(record)
	m.deps.Metrics.RecordOperation(OpRehydrate, metrics.OutcomeSuccess, time.Since(start))
}

// run は操作の共通処理を行う。開始時にエラーをクリアしてAuthenticatingを立て、
// 終了時にはパニックを含む全ての経路でAuthenticatingを解除し、失敗時はエラーを記録する。
func (m *Manager) run(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	start := time.Now()
	m.update(func(s *State) {
		s.Error = nil
		s.IsAuthenticating = true
	})

	defer func() {
		if r := recover(); r != nil {
			m.update(func(s *State) { s.IsAuthenticating = false })
			slog.Error("auth operation panicked",
				slog.String("operation", op),
				slog.String("panic", fmt.Sprint(r)),
			)
			m.deps.Metrics.RecordOperation(op, metrics.OutcomeError, time.Since(start))
			panic(r)
		}

		outcome := outcomeOf(err)
		if errors.Is(err, errCanceled) {
			err = nil
			outcome = metrics.OutcomeCanceled
		}
		recorded := err
		m.update(func(s *State) {
			s.IsAuthenticating = false
			if recorded != nil {
				s.Error = recorded
			}
		})
		if err != nil {
			slog.Warn("auth operation failed",
				slog.String("operation", op),
				slog.String("kind", string(model.KindOf(err))),
				slog.String("error", err.Error()),
			)
		}
		m.deps.Metrics.RecordOperation(op, outcome, time.Since(start))
	}()

	return fn(ctx)
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if kind := model.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return metrics.OutcomeError
}

// find は資格情報を取得する。未登録の場合はNotFoundを返す。
func (m *Manager) find(ctx context.Context, email string) (*model.Credential, error) {
	cred, err := m.deps.Directory.Find(ctx, email)
	if err != nil {
		return nil, model.NewStorageFaultError(err)
	}
	if cred == nil {
		return nil, model.NewNotFoundError()
	}
	return cred, nil
}

// SignIn はメールアドレスとパスワードでサインインし、セッションを保存する。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	return m.run(ctx, OpSignIn, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}

		cred, err := m.find(ctx, email)
		if err != nil {
			return err
		}

		ok, err := m.deps.Hasher.Compare(cred.Password, password)
		if err != nil {
			return model.NewStorageFaultError(err)
		}
		if !ok {
			return model.NewInvalidCredentialsError()
		}
		if cred.NeedsConfirmation {
			return model.NewUnconfirmedAccountError()
		}

		record := model.SessionRecord{
			Email:    email,
			Name:     cred.Name,
			Provider: model.ProviderLocal,
		}
		if err := m.deps.Sessions.Save(ctx, record); err != nil {
			return model.NewStorageFaultError(err)
		}
		m.setUser(&record)
		return nil
	})
}

// SignUp は確認待ちの資格情報を登録する。セッションは作成しない。
func (m *Manager) SignUp(ctx context.Context, email, password, name string) error {
	return m.run(ctx, OpSignUp, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}

		hashed, err := m.deps.Hasher.Hash(password)
		if err != nil {
			return model.NewStorageFaultError(err)
		}
		if m.deps.Sanitizer != nil {
			name = m.deps.Sanitizer.SanitizeName(name)
		}

		err = m.deps.Directory.Insert(ctx, email, model.Credential{
			Password:          hashed,
			Name:              name,
			NeedsConfirmation: true,
		})
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.NewAlreadyRegisteredError()
		}
		if err != nil {
			return model.NewStorageFaultError(err)
		}
		slog.Info("[mock] confirmation code sent", slog.String("email", email))
		return nil
	})
}

// ConfirmSignUp は確認コードを受け付け、確認待ちフラグを解除する。
// 6桁の数字であればどのコードも受け付ける。
func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) error {
	return m.run(ctx, OpConfirmSignUp, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}
		if !validation.IsCode(code) {
			return model.NewInvalidCodeFormatError()
		}
		return m.updateCredential(ctx, email, func(c *model.Credential) {
			c.NeedsConfirmation = false
		})
	})
}

// ForgotPassword はパスワード再設定コードの送信を模擬する。保存済みの状態は変更しない。
func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return m.run(ctx, OpForgotPassword, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}
		if _, err := m.find(ctx, email); err != nil {
			return err
		}
		slog.Info("[mock] password reset code sent", slog.String("email", email))
		return nil
	})
}

// ConfirmForgotPassword は確認コードを受け付け、パスワードを置き換える。
func (m *Manager) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	return m.run(ctx, OpConfirmForgotPassword, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}
		if !validation.IsCode(code) {
			return model.NewInvalidCodeFormatError()
		}
		hashed, err := m.deps.Hasher.Hash(newPassword)
		if err != nil {
			return model.NewStorageFaultError(err)
		}
		return m.updateCredential(ctx, email, func(c *model.Credential) {
			c.Password = hashed
		})
	})
}

// ResendConfirmationCode は確認コードの再送信を模擬する。保存済みの状態は変更しない。
func (m *Manager) ResendConfirmationCode(ctx context.Context, email string) error {
	return m.run(ctx, OpResendConfirmationCode, func(ctx context.Context) error {
		if err := m.deps.Delay(ctx, SimulatedLatency); err != nil {
			return err
		}
		if _, err := m.find(ctx, email); err != nil {
			return err
		}
		slog.Info("[mock] confirmation code resent", slog.String("email", email))
		return nil
	})
}

// SignOut はセッションを削除して未認証状態にする。
// 削除に失敗した場合は状態を変更しない。
func (m *Manager) SignOut(ctx context.Context) error {
	return m.run(ctx, OpSignOut, func(ctx context.Context) error {
		if err := m.deps.Sessions.Clear(ctx); err != nil {
			return model.NewStorageFaultError(err)
		}
		m.setUser(nil)
		return nil
	})
}

// SignInWithGoogle はGoogleでサインインする。キャンセル時は状態を変更しない。
func (m *Manager) SignInWithGoogle(ctx context.Context) error {
	return m.run(ctx, OpSignInWithGoogle, func(ctx context.Context) error {
		if m.deps.Social == nil {
			return model.NewUnsupportedPlatformError(model.ProviderGoogle)
		}
		identity, err := m.deps.Social.SignInWithGoogle(ctx)
		return m.afterSocialSignIn(ctx, identity, err)
	})
}

// SignInWithApple はAppleでサインインする。キャンセル時は状態を変更しない。
func (m *Manager) SignInWithApple(ctx context.Context) error {
	return m.run(ctx, OpSignInWithApple, func(ctx context.Context) error {
		if m.deps.Social == nil {
			return model.NewUnsupportedPlatformError(model.ProviderApple)
		}
		identity, err := m.deps.Social.SignInWithApple(ctx)
		return m.afterSocialSignIn(ctx, identity, err)
	})
}

// afterSocialSignIn はブリッジが書き込んだセッションを読み直して状態に反映する。
func (m *Manager) afterSocialSignIn(ctx context.Context, identity *social.Identity, err error) error {
	if err != nil {
		return err
	}
	if identity == nil {
		return errCanceled
	}
	return m.reload(ctx)
}

// reload はセッションストアを読み直す。読み取り中はIsLoadingを立てる。
func (m *Manager) reload(ctx context.Context) error {
	m.update(func(s *State) { s.IsLoading = true })
	defer m.update(func(s *State) { s.IsLoading = false })

	record, err := m.deps.Sessions.Load(ctx)
	if err != nil {
		m.setUser(nil)
		return model.NewStorageFaultError(err)
	}
	m.setUser(record)
	return nil
}

// updateCredential は資格情報を更新する。未登録の場合はNotFoundを返す。
func (m *Manager) updateCredential(ctx context.Context, email string, mutate func(*model.Credential)) error {
	err := m.deps.Directory.Update(ctx, email, mutate)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewNotFoundError()
	}
	if err != nil {
		return model.NewStorageFaultError(err)
	}
	return nil
}
