package middleware

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ReplayStore remembers signed credentials so a captured Signature header
// cannot be presented twice inside the clock skew window.
type ReplayStore interface {
	// Observe records key and reports whether it had been recorded before.
	Observe(ctx context.Context, key string, at time.Time) (bool, error)
	// Prune forgets keys observed before cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
}

const (
	seenKeyPrefix     = "seen:"
	observedKeyPrefix = "observed:"
)

// LevelDBReplayStore persists observed signatures so restarts do not reopen
// the replay window.
type LevelDBReplayStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelDBReplayStore opens (or creates) a LevelDB database at path.
func OpenLevelDBReplayStore(path string) (*LevelDBReplayStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("replay store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve replay store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	return &LevelDBReplayStore{db: db}, nil
}

func (s *LevelDBReplayStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *LevelDBReplayStore) Observe(ctx context.Context, key string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("replay store not configured")
	}
	if strings.TrimSpace(key) == "" {
		return false, fmt.Errorf("replay key required")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seenKey := []byte(seenKeyPrefix + key)
	_, err := s.db.Get(seenKey, nil)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, leveldb.ErrNotFound):
		return false, fmt.Errorf("load replay key: %w", err)
	}
	nanos := at.UTC().UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(seenKey, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, key)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record replay key: %w", err)
	}
	return false, nil
}

func (s *LevelDBReplayStore) Prune(ctx context.Context, cutoff time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("replay store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(&util.Range{Start: []byte(observedKeyPrefix), Limit: limit}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(seenKeyPrefix + key))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate replay keys: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("prune replay keys: %w", err)
	}
	return nil
}

func observedKey(nanos int64, key string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, key)
}

func parseObservedKey(raw []byte) (string, bool) {
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", false
	}
	return parts[2], true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
