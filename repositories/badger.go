package repositories

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 32

// updateWithRetry runs fn in a read-write transaction and replays it when
// badger detects a conflicting concurrent commit.
func updateWithRetry(db *badger.DB, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

// getValue copies the value stored at key. found is false when the key is absent.
func getValue(txn *badger.Txn, key []byte) (value []byte, found bool, err error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err = item.ValueCopy(nil)
	return value, err == nil, err
}

// scanPrefix copies every key/value pair under prefix. Only suited for
// small key spaces such as a message's reactions or a user's index.
func scanPrefix(txn *badger.Txn, prefix []byte, visit func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := visit(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}
