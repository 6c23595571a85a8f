package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

var keyPrefix = []byte("checkpoint/")

// BadgerStore keeps records in an embedded badger database. Every Save is a
// single transaction, which gives the same all-or-nothing guarantee as the
// rename in FileStore.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil).WithSyncWrites(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func key(id string) []byte {
	return append(append([]byte{}, keyPrefix...), id...)
}

func (s *BadgerStore) Load(id string) (*Record, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decode(data)
}

func (s *BadgerStore) Save(rec *Record) error {
	rec.Version = Version
	rec.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		if rec.CreatedAt.IsZero() {
			if item, err := txn.Get(key(rec.ID)); err == nil {
				item.Value(func(val []byte) error {
					if prev, err := decode(val); err == nil {
						rec.CreatedAt = prev.CreatedAt
					}
					return nil
				})
			}
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		data, err := encode(rec)
		if err != nil {
			return fmt.Errorf("error encoding checkpoint: %w", err)
		}
		return txn.Set(key(rec.ID), data)
	})
}

func (s *BadgerStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

func (s *BadgerStore) List() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decode(val)
				if err != nil {
					log.Debug().Str("op", "checkpoint/badger").Err(err).Msgf("Skipping unreadable checkpoint %s", item.Key())
					return nil
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
