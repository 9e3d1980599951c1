// filestore.go — Best-effort flat-file fallback persistence.
// The entire pending queue is serialized to a single slot file on each
// write. Writes that would exceed the size budget are refused. On load the
// slot is validated before decoding; a corrupt or unreadable slot is removed
// rather than left to poison the next load. Semantics are best effort
// throughout: failures log and degrade, they never propagate.
package store

import (
	"encoding/json"
	"os"

	"github.com/valyala/fastjson"

	"github.com/Basillica/eaglet/internal/diag"
	"github.com/Basillica/eaglet/internal/types"
)

// FileStore persists the queue snapshot as a JSON array in one file.
type FileStore struct {
	path    string
	maxSize int64
}

// NewFileStore configures a fallback slot at path with the given byte
// budget. A budget of zero or below means unbounded.
func NewFileStore(path string, maxSize int64) *FileStore {
	return &FileStore{path: path, maxSize: maxSize}
}

// Save serializes entries into the slot, replacing previous contents.
// Returns false when the write was refused (over budget) or failed; the
// caller keeps the records in memory in that case.
func (f *FileStore) Save(entries []types.LogEntry) bool {
	if len(entries) == 0 {
		f.Clear()
		return true
	}
	data, err := json.Marshal(entries)
	if err != nil {
		diag.L("store").Warnf("fallback serialize failed: %v", err)
		return false
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		diag.L("store").Warnf("fallback write refused: %d bytes exceeds budget %d", len(data), f.maxSize)
		return false
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		diag.L("store").Warnf("fallback write failed, clearing slot: %v", err)
		f.Clear()
		return false
	}
	return true
}

// Load reads, validates, and decodes the slot, then clears it. A missing
// slot yields nil. A slot that is not a well-formed JSON array is removed
// and yields nil.
func (f *FileStore) Load() []types.LogEntry {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			diag.L("store").Warnf("fallback read failed, clearing slot: %v", err)
			f.Clear()
		}
		return nil
	}

	// Cheap structural validation before the typed decode: reject anything
	// that is not a JSON array without allocating entry structs.
	var parser fastjson.Parser
	parsed, err := parser.ParseBytes(data)
	if err != nil || parsed.Type() != fastjson.TypeArray {
		diag.L("store").Warnf("fallback slot corrupt, clearing")
		f.Clear()
		return nil
	}

	var entries []types.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		diag.L("store").Warnf("fallback slot undecodable, clearing: %v", err)
		f.Clear()
		return nil
	}
	f.Clear()
	return entries
}

// Clear removes the slot file if present.
func (f *FileStore) Clear() {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		diag.L("store").Debugf("fallback clear failed: %v", err)
	}
}

// Path returns the slot location.
func (f *FileStore) Path() string { return f.path }
