package index

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lderrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tbtc-relay/relayer/internal/deposit"
	rlog "github.com/tbtc-relay/relayer/internal/log"
)

var logger = rlog.NewModuleLogger("index")

// levelDBIndex wraps a goleveldb handle, grounded on the Put/Get/Has/Delete
// shape of storage/database/leveldb_database.go's levelDB type,
// trimmed of the blockchain-specific metrics wiring it doesn't need here.
type levelDBIndex struct {
	db *leveldb.DB
}

func newLevelDBIndex(dir string) (*levelDBIndex, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*lderrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "index: opening leveldb")
	}
	return &levelDBIndex{db: db}, nil
}

func (x *levelDBIndex) Set(id string, status deposit.Status) error {
	batch := new(leveldb.Batch)

	if raw, err := x.db.Get(idKey(id), nil); err == nil {
		prev := deposit.Status(decodeStatus(raw))
		if prev != status {
			batch.Delete(statusKey(prev, id))
		}
	} else if err != leveldb.ErrNotFound {
		return errors.Wrap(err, "index: reading previous status")
	}

	batch.Put(statusKey(status, id), nil)
	batch.Put(idKey(id), encodeStatus(status))
	if err := x.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "index: writing status entry")
	}
	return nil
}

func (x *levelDBIndex) Delete(id string) error {
	raw, err := x.db.Get(idKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "index: reading status before delete")
	}
	status := deposit.Status(decodeStatus(raw))

	batch := new(leveldb.Batch)
	batch.Delete(statusKey(status, id))
	batch.Delete(idKey(id))
	return errors.Wrap(x.db.Write(batch, nil), "index: deleting status entry")
}

func (x *levelDBIndex) List(status deposit.Status) ([]string, error) {
	prefix := statusPrefix(status)
	iter := x.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "index: iterating status prefix")
	}
	return ids, nil
}

func (x *levelDBIndex) Close() error {
	return x.db.Close()
}

func encodeStatus(s deposit.Status) []byte {
	return []byte{byte(s)}
}

func decodeStatus(raw []byte) int {
	if len(raw) == 0 {
		return -1
	}
	return int(raw[0])
}
