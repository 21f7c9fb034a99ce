package tracker

import (
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SessionStore is the per-document, per-tab slot holding the session id, so
// a reload resumes the same presence entry.
type SessionStore interface {
	Load(key string) (string, bool, error)
	Save(key, sessionID string) error
}

func sessionKey(documentID, tabID string) string {
	return fmt.Sprintf("quote_session_%s_%s", documentID, tabID)
}

// MemoryStore keeps slots for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]string)}
}

func (s *MemoryStore) Load(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.slots[key]
	return id, ok, nil
}

func (s *MemoryStore) Save(key, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = sessionID
	return nil
}

var sessionsBucket = []byte("sessions")

// BoltStore keeps slots in a bbolt file so they survive process restarts.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(key string) (string, bool, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(key))
		if v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (s *BoltStore) Save(key, sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(key), []byte(sessionID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
