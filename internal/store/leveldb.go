// leveldb.go — Durable store over an embedded ordered key/value database.
// Records are kept under "<namespace>/<id>" with CBOR-encoded values. Ids
// are UUIDv7 strings, which sort chronologically, so iterating the key range
// yields records oldest first without a secondary index. The handle is
// opened lazily; a single in-flight open is shared by all concurrent
// callers. A store whose open fails becomes a permanent no-op — the
// coordinator routes to the fallback store instead.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Basillica/eaglet/internal/diag"
	"github.com/Basillica/eaglet/internal/types"
)

// ErrStoreUnavailable is returned by every operation after the store failed
// to open or was configured off.
var ErrStoreUnavailable = errors.New("durable store unavailable")

// ErrVersionBlocked reports that the on-disk schema version is newer than
// the configured one. The open is refused; the condition is logged and
// surfaced through Err, never thrown.
var ErrVersionBlocked = errors.New("durable store version is newer than configured")

const versionKeySuffix = "!version"

// decMode decodes nested maps in free-form fields as map[string]any, so a
// record read back from the store encodes to JSON like the one written.
var decMode, _ = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()

// NewID returns a fresh time-ordered record id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4 so
		// persistence still proceeds (ordering degrades, uniqueness holds).
		return uuid.NewString()
	}
	return id.String()
}

// LevelStore is a lazily-opened goleveldb-backed log store.
type LevelStore struct {
	mu        sync.Mutex
	path      string
	namespace string
	version   uint32

	db       *leveldb.DB
	openErr  error
	attempts int
}

// NewLevelStore configures a store rooted at path. Nothing touches disk
// until the first operation.
func NewLevelStore(path, namespace string, version int) *LevelStore {
	if namespace == "" {
		namespace = "logs"
	}
	if version < 1 {
		version = 1
	}
	return &LevelStore{
		path:      path,
		namespace: namespace,
		version:   uint32(version),
	}
}

// handle returns the open database, opening it on first use. Concurrent
// callers serialize on the mutex, so exactly one open attempt is in flight
// and everyone shares its outcome.
func (s *LevelStore) handle() (*leveldb.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.openErr != nil {
		return nil, s.openErr
	}

	s.attempts++
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		s.openErr = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		diag.L("store").Warnf("durable store open failed, falling back: %v", err)
		return nil, s.openErr
	}

	if err := s.checkVersion(db); err != nil {
		_ = db.Close()
		s.openErr = err
		diag.L("store").Warnf("durable store blocked: %v", err)
		return nil, s.openErr
	}

	s.db = db
	return s.db, nil
}

// checkVersion enforces the schema version under the namespace meta key.
// Absent or older versions are (re)written — the upgrade path. A newer
// stored version blocks the open.
func (s *LevelStore) checkVersion(db *leveldb.DB) error {
	key := []byte(s.namespace + versionKeySuffix)
	raw, err := db.Get(key, nil)
	switch {
	case err == leveldb.ErrNotFound:
		return db.Put(key, s.versionBytes(), nil)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 4 {
		return db.Put(key, s.versionBytes(), nil)
	}
	stored := binary.BigEndian.Uint32(raw)
	if stored > s.version {
		return fmt.Errorf("%w: on-disk %d, configured %d", ErrVersionBlocked, stored, s.version)
	}
	if stored < s.version {
		return db.Put(key, s.versionBytes(), nil)
	}
	return nil
}

func (s *LevelStore) versionBytes() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, s.version)
	return buf
}

// Err returns the sticky open error, if any.
func (s *LevelStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openErr
}

// Ready reports whether the store is usable (open succeeded or has not been
// attempted yet).
func (s *LevelStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openErr == nil
}

func (s *LevelStore) key(id string) []byte {
	return []byte(s.namespace + "/" + id)
}

// AddLog persists a single entry, assigning an id if absent.
func (s *LevelStore) AddLog(entry types.LogEntry) error {
	return s.AddLogs([]types.LogEntry{entry})
}

// AddLogs persists entries in one write batch: either every entry lands or
// none do. Entries without an id are assigned one; ids already present are
// kept.
func (s *LevelStore) AddLogs(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = NewID()
		}
		value, err := cbor.Marshal(&entries[i])
		if err != nil {
			return fmt.Errorf("encode log %s: %w", entries[i].ID, err)
		}
		batch.Put(s.key(entries[i].ID), value)
	}
	return db.Write(batch, nil)
}

// GetLogs returns up to n entries, oldest first. n <= 0 returns everything.
func (s *LevelStore) GetLogs(n int) ([]types.LogEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	iter := db.NewIterator(ldbutil.BytesPrefix([]byte(s.namespace+"/")), nil)
	defer iter.Release()

	var out []types.LogEntry
	for iter.Next() {
		var entry types.LogEntry
		if err := decMode.Unmarshal(iter.Value(), &entry); err != nil {
			diag.L("store").Warnf("skipping undecodable record %q: %v", iter.Key(), err)
			continue
		}
		out = append(out, entry)
		if n > 0 && len(out) >= n {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return out, err
	}
	return out, nil
}

// GetAllLogs returns every stored entry, oldest first.
func (s *LevelStore) GetAllLogs() ([]types.LogEntry, error) {
	return s.GetLogs(0)
}

// ReadOldest implements the sender's spool view.
func (s *LevelStore) ReadOldest(n int) ([]types.LogEntry, error) {
	return s.GetLogs(n)
}

// DeleteLogs removes the given ids. A failed delete of one key does not
// abort the siblings; the first error is reported after all keys were
// attempted.
func (s *LevelStore) DeleteLogs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	var firstErr error
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := db.Delete(s.key(id), nil); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete log %s: %w", id, err)
		}
	}
	return firstErr
}

// DeleteByIDs implements the sender's spool view.
func (s *LevelStore) DeleteByIDs(ids []string) error {
	return s.DeleteLogs(ids)
}

// ClearLogs removes every record in the namespace. The version meta key is
// kept.
func (s *LevelStore) ClearLogs() error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	iter := db.NewIterator(ldbutil.BytesPrefix([]byte(s.namespace+"/")), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return db.Write(batch, nil)
}

// Count returns the number of stored records without decoding values.
func (s *LevelStore) Count() (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	iter := db.NewIterator(ldbutil.BytesPrefix([]byte(s.namespace+"/")), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Close releases the database handle. Further operations reopen lazily.
func (s *LevelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
