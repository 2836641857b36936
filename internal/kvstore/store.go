// Package kvstore は認証状態を保存する永続キーバリューストアを提供する。
// 1つのキーに1つのJSON値を丸ごと保存し、書き込みは常に値全体の置き換えとなる。
package kvstore

import (
	"context"
	"sync"
)

// Store は永続キーバリューストアのインターフェース。
type Store interface {
	// Get は指定キーの値を取得する。キーが存在しない場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set は指定キーの値を置き換える。
	Set(ctx context.Context, key string, value []byte) error
	// Delete は指定キーを削除する。存在しない場合は何もしない。
	Delete(ctx context.Context, key string) error
}

// MemoryStore はプロセス内メモリに値を保持するStore。
// テストと永続化不要な起動モードで使用する。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Get は指定キーの値のコピーを返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set は指定キーの値を置き換える。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = stored
	return nil
}

// Delete は指定キーを削除する。
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
