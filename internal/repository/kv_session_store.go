package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/mockauth/internal/kvstore"
	"github.com/hitoshi/mockauth/internal/model"
)

// KVSessionStore はkvstore.Storeの1キーにセッションレコードをJSONで保存する。
type KVSessionStore struct {
	store kvstore.Store
}

// NewKVSessionStore はKVSessionStoreを生成する。
func NewKVSessionStore(store kvstore.Store) *KVSessionStore {
	return &KVSessionStore{store: store}
}

// Load は保存済みのセッションを取得する。存在しない場合はnilを返す。
func (s *KVSessionStore) Load(ctx context.Context) (*model.SessionRecord, error) {
	raw, err := s.store.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var record model.SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &record, nil
}

// Save はセッションを置き換える。
func (s *KVSessionStore) Save(ctx context.Context, record model.SessionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.store.Set(ctx, SessionKey, raw); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Clear はセッションを削除する。
func (s *KVSessionStore) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*KVSessionStore)(nil)
