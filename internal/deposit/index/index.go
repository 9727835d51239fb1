// Package index implements the pluggable secondary status index described in
// SPEC_FULL.md §2.14: a rebuildable id→status map that lets Store.ListByStatus
// avoid a full directory scan. Two backends are provided, selected the same
// way node.ServiceContext.OpenDatabase switches on DBType
// (node/service.go): LevelDB (github.com/syndtr/goleveldb, see
// storage/database/leveldb_database.go) and Badger
// (github.com/dgraph-io/badger, see storage/database/badger_database.go).
package index

import (
	"fmt"

	"github.com/tbtc-relay/relayer/internal/deposit"
)

// Backend names a supported index backend, mirroring node.ServiceContext's DBType
// constants (LEVELDB/BADGER in storage/database/database.go).
type Backend string

const (
	LevelDB Backend = "leveldb"
	Badger  Backend = "badger"
)

// Open constructs the index backend named by backend, storing its data under
// dir. An empty backend returns (nil, nil), meaning "no index": Store then
// falls back to full scans for ListByStatus.
func Open(backend Backend, dir string) (deposit.Index, error) {
	switch backend {
	case "":
		return nil, nil
	case LevelDB:
		return newLevelDBIndex(dir)
	case Badger:
		return newBadgerIndex(dir)
	default:
		return nil, fmt.Errorf("index: unsupported backend %q", backend)
	}
}

// statusKey encodes the composite (status, id) key each backend stores,
// grouping a status's members under a shared prefix so List(status) is a
// single prefix scan rather than a full-table filter.
func statusKey(status deposit.Status, id string) []byte {
	return []byte(fmt.Sprintf("s/%d/%s", status, id))
}

func statusPrefix(status deposit.Status) []byte {
	return []byte(fmt.Sprintf("s/%d/", status))
}

// idKey tracks which status an id was last recorded under, so Set can erase
// the stale (oldStatus, id) entry when a deposit advances.
func idKey(id string) []byte {
	return []byte("i/" + id)
}
