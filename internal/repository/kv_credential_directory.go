package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/mockauth/internal/kvstore"
	"github.com/hitoshi/mockauth/internal/model"
)

// DefaultSeed は初回起動時に投入するデモユーザーを返す。
func DefaultSeed() map[string]model.Credential {
	return map[string]model.Credential{
		"user@example.com": {
			Password:          "Password123",
			Name:              "Demo User",
			NeedsConfirmation: false,
		},
	}
}

// KVCredentialDirectory はkvstore.Storeの1キーにJSONマップ全体を保存する資格情報ディレクトリ。
// 変更は読み込み・更新・全体書き戻しの順で行い、mutexで直列化する。
type KVCredentialDirectory struct {
	mu    sync.Mutex
	store kvstore.Store
	seed  map[string]model.Credential
}

// NewKVCredentialDirectory はKVCredentialDirectoryを生成する。
// seedはキーが未書き込みの間の読み取り結果と、InitializeIfEmptyで保存される内容になる。
func NewKVCredentialDirectory(store kvstore.Store, seed map[string]model.Credential) *KVCredentialDirectory {
	return &KVCredentialDirectory{store: store, seed: seed}
}

// InitializeIfEmpty はキーが未書き込みの場合にseedを保存する。
func (d *KVCredentialDirectory) InitializeIfEmpty(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.store.Get(ctx, CredentialsKey)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if raw != nil {
		return nil
	}
	return d.writeAll(ctx, d.seedCopy())
}

// Find は指定メールアドレスの資格情報のコピーを返す。見つからない場合はnilを返す。
func (d *KVCredentialDirectory) Find(ctx context.Context, email string) (*model.Credential, error) {
	all, err := d.readAll(ctx)
	if err != nil {
		return nil, err
	}
	cred, ok := all[email]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// Insert は資格情報を追加する。
func (d *KVCredentialDirectory) Insert(ctx context.Context, email string, cred model.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	all, err := d.readAll(ctx)
	if err != nil {
		return err
	}
	if _, exists := all[email]; exists {
		return ErrDuplicateEmail
	}
	all[email] = cred
	return d.writeAll(ctx, all)
}

// Update は既存の資格情報にmutateを適用して保存する。
func (d *KVCredentialDirectory) Update(ctx context.Context, email string, mutate func(*model.Credential)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	all, err := d.readAll(ctx)
	if err != nil {
		return err
	}
	cred, ok := all[email]
	if !ok {
		return ErrNotFound
	}
	mutate(&cred)
	all[email] = cred
	return d.writeAll(ctx, all)
}

// readAll は保存済みのマップ全体を読み込む。未書き込みの場合はseedのコピーを返す。
func (d *KVCredentialDirectory) readAll(ctx context.Context) (map[string]model.Credential, error) {
	raw, err := d.store.Get(ctx, CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if raw == nil {
		return d.seedCopy(), nil
	}

	all := make(map[string]model.Credential)
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	// "null" はnilマップにデコードされる
	if all == nil {
		all = make(map[string]model.Credential)
	}
	return all, nil
}

func (d *KVCredentialDirectory) writeAll(ctx context.Context, all map[string]model.Credential) error {
	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := d.store.Set(ctx, CredentialsKey, raw); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func (d *KVCredentialDirectory) seedCopy() map[string]model.Credential {
	out := make(map[string]model.Credential, len(d.seed))
	for email, cred := range d.seed {
		out[email] = cred
	}
	return out
}

// compile-time interface check
var _ CredentialDirectory = (*KVCredentialDirectory)(nil)
