package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketFlag      = "flag"
	bucketAllowList = "allowlist"

	keyFlag = "maintenance"
)

// flagEntry is the msgpack form of FlagRecord.
type flagEntry struct {
	ExpiresAt  int64 // Unix seconds, 0 = no expiry
	RecordedAt time.Time
}

// allowEntry is the msgpack value stored for each allow-list identifier.
type allowEntry struct {
	RecordedAt time.Time
}

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/maintenance.db.
// bbolt holds an exclusive lock on the file; a second process blocks until timeout.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "maintenance.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketFlag, bucketAllowList} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Flag ------------------------------------------------------------------

func (s *bboltStore) GetFlag(_ context.Context) (FlagRecord, bool, error) {
	var (
		entry flagEntry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketFlag)).Get([]byte(keyFlag))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &entry)
	})
	if err != nil {
		return FlagRecord{}, false, persistErr("read flag", err)
	}
	if !found {
		return FlagRecord{}, false, nil
	}
	var rec FlagRecord
	if entry.ExpiresAt > 0 {
		rec.ExpiresAt = time.Unix(entry.ExpiresAt, 0).UTC()
	}
	return rec, true, nil
}

func (s *bboltStore) SetFlag(_ context.Context, rec FlagRecord) error {
	entry := flagEntry{RecordedAt: time.Now().UTC()}
	if !rec.ExpiresAt.IsZero() {
		entry.ExpiresAt = rec.ExpiresAt.Unix()
	}
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return persistErr("write flag", fmt.Errorf("marshal flag: %w", err))
	}
	return persistErr("write flag", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketFlag)).Put([]byte(keyFlag), data)
	}))
}

func (s *bboltStore) DeleteFlag(_ context.Context) error {
	return persistErr("delete flag", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketFlag)).Delete([]byte(keyFlag))
	}))
}

// ---- Allow list ------------------------------------------------------------

func (s *bboltStore) PutAllowed(_ context.Context, id string) error {
	if id == "" {
		return persistErr("put allowed", fmt.Errorf("empty identifier"))
	}
	data, err := msgpack.Marshal(allowEntry{RecordedAt: time.Now().UTC()})
	if err != nil {
		return persistErr("put allowed", fmt.Errorf("marshal allow entry: %w", err))
	}
	return persistErr("put allowed", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAllowList)).Put([]byte(id), data)
	}))
}

func (s *bboltStore) DeleteAllowed(_ context.Context, id string) error {
	return persistErr("delete allowed", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAllowList)).Delete([]byte(id))
	}))
}

func (s *bboltStore) ListAllowed(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAllowList)).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, persistErr("list allowed", err)
	}
	return ids, nil
}

func (s *bboltStore) HasAllowed(_ context.Context, id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(bucketAllowList)).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, persistErr("has allowed", err)
	}
	return found, nil
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.db.Path()); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
