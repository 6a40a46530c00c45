package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"authsession/internal/models"
)

// Fixed keys of the persisted session mirror.
const (
	TokenKey = "token"
	UserKey  = "user"
)

// Storage is the durable key/value mirror of the client session. Writers do
// not coordinate; the last write wins.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(keys ...string) error
	Close() error
}

type BadgerStorage struct {
	db *badger.DB
}

func NewBadgerStorage(dir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *BadgerStorage) Set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStorage) Delete(keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

type MemoryStorage struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

func (s *MemoryStorage) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStorage) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStorage) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

func loadSnapshot(store Storage) (string, *models.PublicUser, error) {
	rawToken, ok, err := store.Get(TokenKey)
	if err != nil || !ok {
		return "", nil, err
	}

	rawUser, ok, err := store.Get(UserKey)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return string(rawToken), nil, nil
	}

	var user models.PublicUser
	if err := json.Unmarshal(rawUser, &user); err != nil {
		// An unreadable snapshot is treated as absent; the token alone is
		// still revalidated.
		return string(rawToken), nil, nil
	}
	return string(rawToken), &user, nil
}

func saveUser(store Storage, user models.PublicUser) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return store.Set(UserKey, raw)
}

func saveSnapshot(store Storage, token string, user models.PublicUser) error {
	if err := store.Set(TokenKey, []byte(token)); err != nil {
		return err
	}
	return saveUser(store, user)
}

func clearSnapshot(store Storage) error {
	return store.Delete(TokenKey, UserKey)
}
