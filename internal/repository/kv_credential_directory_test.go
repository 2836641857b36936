package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hitoshi/mockauth/internal/kvstore"
	"github.com/hitoshi/mockauth/internal/model"
)

// mockStore はkvstore.Storeのモック実装。
type mockStore struct {
	getFn    func(ctx context.Context, key string) ([]byte, error)
	setFn    func(ctx context.Context, key string, value []byte) error
	deleteFn func(ctx context.Context, key string) error
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func TestKVCredentialDirectory_Find_FallsBackToSeedBeforeInitialization(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	dir := NewKVCredentialDirectory(store, DefaultSeed())

	cred, err := dir.Find(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if cred == nil {
		t.Fatal("expected seeded user, got nil")
	}
	if cred.Password != "Password123" || cred.Name != "Demo User" || cred.NeedsConfirmation {
		t.Errorf("unexpected seed credential: %+v", cred)
	}

	// 読み取りだけではキーは書き込まれない
	raw, _ := store.Get(ctx, CredentialsKey)
	if raw != nil {
		t.Errorf("Find() should not write, got %s", raw)
	}
}

func TestKVCredentialDirectory_InitializeIfEmpty_WritesSeedOnce(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	dir := NewKVCredentialDirectory(store, DefaultSeed())

	if err := dir.InitializeIfEmpty(ctx); err != nil {
		t.Fatalf("InitializeIfEmpty() error = %v", err)
	}
	raw, _ := store.Get(ctx, CredentialsKey)
	var stored map[string]model.Credential
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if _, ok := stored["user@example.com"]; !ok {
		t.Fatalf("seed not written: %s", raw)
	}

	// 追加後に再度呼んでも上書きされない
	if err := dir.Insert(ctx, "new@example.com", model.Credential{Password: "secret1", Name: "New"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := dir.InitializeIfEmpty(ctx); err != nil {
		t.Fatalf("InitializeIfEmpty() second call error = %v", err)
	}
	cred, _ := dir.Find(ctx, "new@example.com")
	if cred == nil {
		t.Error("InitializeIfEmpty() must not overwrite existing entries")
	}
}

func TestKVCredentialDirectory_InitializeIfEmpty_KeepsExplicitlyEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	_ = store.Set(ctx, CredentialsKey, []byte(`{}`))
	dir := NewKVCredentialDirectory(store, DefaultSeed())

	if err := dir.InitializeIfEmpty(ctx); err != nil {
		t.Fatalf("InitializeIfEmpty() error = %v", err)
	}
	cred, err := dir.Find(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if cred != nil {
		t.Error("written empty map must not be reseeded")
	}
}

func TestKVCredentialDirectory_Insert_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	dir := NewKVCredentialDirectory(kvstore.NewMemoryStore(), DefaultSeed())

	err := dir.Insert(ctx, "user@example.com", model.Credential{Password: "x", Name: "Other"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("Insert() error = %v, want ErrDuplicateEmail", err)
	}
	cred, _ := dir.Find(ctx, "user@example.com")
	if cred.Name != "Demo User" {
		t.Errorf("existing record modified: %+v", cred)
	}
}

func TestKVCredentialDirectory_EmailIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	dir := NewKVCredentialDirectory(kvstore.NewMemoryStore(), DefaultSeed())

	if err := dir.Insert(ctx, "User@Example.com", model.Credential{Password: "abcdef", Name: "Upper"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	cred, _ := dir.Find(ctx, "USER@EXAMPLE.COM")
	if cred != nil {
		t.Error("lookup must be exact match")
	}
}

func TestKVCredentialDirectory_Update(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	dir := NewKVCredentialDirectory(store, DefaultSeed())

	if err := dir.Insert(ctx, "a@example.com", model.Credential{Password: "secret1", Name: "A", NeedsConfirmation: true}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := dir.Update(ctx, "a@example.com", func(c *model.Credential) { c.NeedsConfirmation = false }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// 新しいインスタンスからも変更が見えること
	reopened := NewKVCredentialDirectory(store, DefaultSeed())
	cred, _ := reopened.Find(ctx, "a@example.com")
	if cred == nil || cred.NeedsConfirmation {
		t.Errorf("update not persisted: %+v", cred)
	}
	if cred.Password != "secret1" || cred.Name != "A" {
		t.Errorf("other fields changed: %+v", cred)
	}
	// 初期ユーザーも同じスナップショットに保存されていること
	if seed, _ := reopened.Find(ctx, "user@example.com"); seed == nil {
		t.Error("seed user lost after first write")
	}
}

func TestKVCredentialDirectory_Update_NotFound(t *testing.T) {
	dir := NewKVCredentialDirectory(kvstore.NewMemoryStore(), DefaultSeed())
	called := false
	err := dir.Update(context.Background(), "nobody@example.com", func(*model.Credential) { called = true })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
	if called {
		t.Error("mutate must not be called for missing record")
	}
}

func TestKVCredentialDirectory_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	dir := NewKVCredentialDirectory(kvstore.NewMemoryStore(), DefaultSeed())

	cred, _ := dir.Find(ctx, "user@example.com")
	cred.Password = "tampered"

	again, _ := dir.Find(ctx, "user@example.com")
	if again.Password != "Password123" {
		t.Errorf("Find() leaked internal state: %+v", again)
	}
}

func TestKVCredentialDirectory_StorageErrors(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("disk full")

	t.Run("読み込み失敗", func(t *testing.T) {
		dir := NewKVCredentialDirectory(&mockStore{
			getFn: func(context.Context, string) ([]byte, error) { return nil, storeErr },
		}, DefaultSeed())
		if _, err := dir.Find(ctx, "user@example.com"); !errors.Is(err, storeErr) {
			t.Errorf("Find() error = %v, want wrapped storeErr", err)
		}
	})

	t.Run("書き込み失敗", func(t *testing.T) {
		dir := NewKVCredentialDirectory(&mockStore{
			setFn: func(context.Context, string, []byte) error { return storeErr },
		}, DefaultSeed())
		err := dir.Insert(ctx, "a@example.com", model.Credential{Password: "secret1"})
		if !errors.Is(err, storeErr) {
			t.Errorf("Insert() error = %v, want wrapped storeErr", err)
		}
	})

	t.Run("壊れたJSON", func(t *testing.T) {
		dir := NewKVCredentialDirectory(&mockStore{
			getFn: func(context.Context, string) ([]byte, error) { return []byte("{not json"), nil },
		}, DefaultSeed())
		if _, err := dir.Find(ctx, "user@example.com"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestKVCredentialDirectory_NullPayload(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	if err := store.Set(ctx, CredentialsKey, []byte("null")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	dir := NewKVCredentialDirectory(store, DefaultSeed())

	if err := dir.Update(ctx, "user@example.com", func(c *model.Credential) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := dir.Insert(ctx, "new@example.com", model.Credential{Password: "secret1", Name: "New"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	cred, err := dir.Find(ctx, "new@example.com")
	if err != nil || cred == nil {
		t.Fatalf("Find() = %v, %v", cred, err)
	}
	if cred.Name != "New" {
		t.Errorf("Find() = %+v", cred)
	}
}
