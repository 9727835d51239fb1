package deposit

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	rlog "github.com/tbtc-relay/relayer/internal/log"
)

var logger = rlog.NewModuleLogger("deposit")

// Index is the pluggable secondary index backing Store.ListByStatus so a
// large deposit set does not require a full directory scan on every
// reconcile tick (SPEC_FULL.md §2.14). It is a cache over the authoritative
// per-file store: ListByStatus skips ids whose file is missing or holds a
// different status, and falls back to a full List() scan when the index
// errors. Rebuild repopulates it from the files.
type Index interface {
	Set(id string, status Status) error
	Delete(id string) error
	List(status Status) ([]string, error)
	Close() error
}

// Store is the durable key→record map described in spec.md §4.1: one JSON
// file per deposit under dir, named "<id>.json". It is the only persistent
// state the relayer keeps for the core.
type Store struct {
	dir   string
	mu    sync.Mutex // serializes the read-modify-write in PutIfAbsent
	cache *lru.Cache // hot-path read cache, grounded on common/cache.go's lruCache wrapper
	index Index      // optional; nil disables the accelerated path
}

const defaultCacheSize = 4096

// NewStore creates (if needed) dir and returns a Store over it. idx may be
// nil, in which case ListByStatus always falls back to a full scan.
func NewStore(dir string, idx Index) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "deposit: creating store directory")
	}
	c, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "deposit: building read cache")
	}
	return &Store{dir: dir, cache: c, index: idx}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Get reads the current state of a record, if present.
func (s *Store) Get(id string) (Record, bool, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(Record), true, nil
	}
	r, ok, err := s.readFile(id)
	if err != nil || !ok {
		return Record{}, false, err
	}
	s.cache.Add(id, r)
	return r, true, nil
}

func (s *Store) readFile(id string) (Record, bool, error) {
	raw, err := ioutil.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrap(err, "deposit: reading record file")
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, false, errors.Wrap(err, "deposit: parsing record file")
	}
	return r, true, nil
}

// Put overwrites the record unconditionally; last writer wins within a
// single process (spec.md §4.1). The write is durable (temp-file-then-
// rename) before Put returns, so any subsequent on-chain submission that
// depends on it observes it after a crash (spec.md §4.1 ordering note).
func (s *Store) Put(r Record) error {
	if err := s.writeFile(r); err != nil {
		return err
	}
	s.cache.Add(r.ID, r)
	if s.index != nil {
		if err := s.index.Set(r.ID, r.Status); err != nil {
			logger.Warn("failed to update status index; listByStatus will fall back to a scan", "id", r.ID, "err", err)
		}
	}
	return nil
}

func (s *Store) writeFile(r Record) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "deposit: encoding record")
	}
	tmp := s.path(r.ID) + ".tmp"
	if err := ioutil.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "deposit: writing record file")
	}
	if err := os.Rename(tmp, s.path(r.ID)); err != nil {
		return errors.Wrap(err, "deposit: committing record file")
	}
	return nil
}

// PutIfAbsent writes r only if no record exists yet for r.ID, making
// duplicate L2 DepositInitialized events a no-op (spec.md §4.3, §8
// invariant 5). Returns created=false when an existing record was left
// untouched.
func (s *Store) PutIfAbsent(r Record) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists, err := s.Get(r.ID); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}
	if err := s.Put(r); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a record. Unused by the core reconciliation path; provided
// for operator tooling (spec.md §4.1, out of scope beyond the signature).
func (s *Store) Delete(id string) error {
	s.cache.Remove(id)
	if s.index != nil {
		if err := s.index.Delete(id); err != nil {
			logger.Warn("failed to remove id from status index", "id", id, "err", err)
		}
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deposit: deleting record file")
	}
	return nil
}

// List scans every record in the store. Corrupt files are skipped and
// logged, never fatal (spec.md §4.1, Corruption policy).
func (s *Store) List() ([]Record, error) {
	entries, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "deposit: listing store directory")
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		r, ok, err := s.readFile(id)
		if err != nil {
			logger.Error("skipping corrupt deposit record", "file", name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// ListByStatus returns every record with the given status. It consults the
// index when available and falls back to a full List() scan (logging a
// warning) when the index is absent or errors (SPEC_FULL.md §2.14, §4.1).
func (s *Store) ListByStatus(status Status) ([]Record, error) {
	if s.index == nil {
		return s.listByStatusScan(status)
	}

	ids, err := s.index.List(status)
	if err != nil {
		logger.Warn("status index unavailable, falling back to a full scan", "status", status, "err", err)
		return s.listByStatusScan(status)
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.Get(id)
		if err != nil {
			logger.Error("skipping corrupt deposit record referenced by index", "id", id, "err", err)
			continue
		}
		if !ok {
			// Index drifted ahead of the files; harmless, the file is the
			// source of truth.
			continue
		}
		if r.Status != status {
			// Index is stale for this id; the file wins.
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) listByStatusScan(status Status) ([]Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rebuild walks every persisted record and sets its index entry. Called at
// every startup that has an index configured, mirroring db_manager.go's
// recovery posture (rebuild from the authoritative source rather than trust
// a stale cache). Index entries for ids with no file are not removed.
func (s *Store) Rebuild() error {
	if s.index == nil {
		return nil
	}
	records, err := s.List()
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := s.index.Set(r.ID, r.Status); err != nil {
			return fmt.Errorf("deposit: rebuilding index for %s: %w", r.ID, err)
		}
	}
	return nil
}
