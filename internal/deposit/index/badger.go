package index

import (
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"

	"github.com/tbtc-relay/relayer/internal/deposit"
)

const (
	gcThreshold      = int64(1 << 30) // 1GB, matches badger_database.go's badgerDB.runValueLogGC threshold
	sizeGCTickerTime = 1 * time.Minute
)

// badgerIndex mirrors storage/database/badger_database.go's badgerDB: same
// transaction-per-call shape, same periodic value-log GC goroutine, adapted
// to store (status, id) composite keys instead of chain data.
type badgerIndex struct {
	db       *badger.DB
	gcTicker *time.Ticker
	stop     chan struct{}
}

func newBadgerIndex(dir string) (*badgerIndex, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "index: opening badger")
	}

	x := &badgerIndex{
		db:       db,
		gcTicker: time.NewTicker(sizeGCTickerTime),
		stop:     make(chan struct{}),
	}
	go x.runValueLogGC()
	return x, nil
}

func (x *badgerIndex) runValueLogGC() {
	_, lastSize := x.db.Size()
	for {
		select {
		case <-x.stop:
			return
		case <-x.gcTicker.C:
			_, currSize := x.db.Size()
			if currSize-lastSize < gcThreshold {
				continue
			}
			if err := x.db.RunValueLogGC(0.5); err != nil {
				logger.Error("badger value log gc failed", "err", err)
				continue
			}
			_, lastSize = x.db.Size()
		}
	}
}

func (x *badgerIndex) Set(id string, status deposit.Status) error {
	return x.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(idKey(id)); err == nil {
			val, verr := item.Value()
			if verr != nil {
				return verr
			}
			prev := deposit.Status(decodeStatus(val))
			if prev != status {
				if derr := txn.Delete(statusKey(prev, id)); derr != nil && derr != badger.ErrKeyNotFound {
					return derr
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(statusKey(status, id), nil); err != nil {
			return err
		}
		return txn.Set(idKey(id), encodeStatus(status))
	})
}

func (x *badgerIndex) Delete(id string) error {
	return x.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.Value()
		if err != nil {
			return err
		}
		status := deposit.Status(decodeStatus(val))

		if err := txn.Delete(statusKey(status, id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(idKey(id))
	})
}

func (x *badgerIndex) List(status deposit.Status) ([]string, error) {
	prefix := statusPrefix(status)
	var ids []string

	err := x.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "index: iterating status prefix")
	}
	return ids, nil
}

func (x *badgerIndex) Close() error {
	close(x.stop)
	x.gcTicker.Stop()
	return x.db.Close()
}
