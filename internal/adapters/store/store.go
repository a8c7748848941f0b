// Package store persists users, rooms and room participants in BadgerDB.
//
// Key layout:
//
//	user:<id>              msgpack domain.User
//	user_tg:<telegram_id>  user id
//	room:<uuid>            msgpack domain.Room
//	part:<uuid>:<user id>  msgpack domain.Participant
//	seq:user               user id sequence
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const seqBandwidth = 100

type Store struct {
	db      *badger.DB
	userSeq *badger.Sequence
	now     func() time.Time
}

// Open opens the database at path. An empty path keeps everything in memory.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return db, nil
}

func New(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte("seq:user"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("user sequence: %w", err)
	}
	return &Store{db: db, userSeq: seq, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the id lease. The database stays open.
func (s *Store) Close() error {
	if err := s.userSeq.Release(); err != nil {
		log.Error().Err(err).Str("module", "store").Msg("release user sequence")
		return err
	}
	return nil
}

func getValue(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, v)
	})
}

func setValue(txn *badger.Txn, key string, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}

// scan decodes every value under prefix, in key order.
func scan[T any](txn *badger.Txn, prefix string, fn func(*T)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		fn(&v)
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}
