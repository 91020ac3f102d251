// Package kvstore keeps the nation blob in a badger database instead of a plain file.
package kvstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/persistence/snapshot"
)

var (
	keyCurrent  = []byte("nations/current")
	keyPrevious = []byte("nations/previous")
)

// BadgerBackend implements snapshot.Backend. Each save keeps the prior blob under
// a second key so a corrupt current blob can fall back one generation.
type BadgerBackend struct {
	db  *badger.DB
	log *logrus.Entry
}

var _ snapshot.Backend = (*BadgerBackend)(nil)

func OpenBadger(dir string, log *logrus.Entry) (*BadgerBackend, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "badger")

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.NumVersionsToKeep = 1
	opts.NumLevelZeroTables = 1
	opts.CompactL0OnClose = true
	opts = opts.WithLogger(badgerLogger{log}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerBackend{db: db, log: log}, nil
}

func (b *BadgerBackend) Save(snap snapshot.SnapshotV1) error {
	blob, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCurrent)
		switch {
		case err == nil:
			prev, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(keyPrevious, prev); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(keyCurrent, blob)
	})
}

// Load returns the newest readable blob; ok is false when nothing was ever saved.
func (b *BadgerBackend) Load() (snapshot.SnapshotV1, bool, error) {
	var cur, prev []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		if cur, err = get(txn, keyCurrent); err != nil {
			return err
		}
		prev, err = get(txn, keyPrevious)
		return err
	})
	if err != nil {
		return snapshot.SnapshotV1{}, false, err
	}
	if cur == nil {
		return snapshot.SnapshotV1{}, false, nil
	}
	snap, err := snapshot.Unmarshal(cur)
	if err == nil {
		return snap, true, nil
	}
	if prev == nil {
		return snapshot.SnapshotV1{}, false, err
	}
	b.log.WithError(err).Warn("current blob unreadable; falling back to previous")
	snap, perr := snapshot.Unmarshal(prev)
	if perr != nil {
		return snapshot.SnapshotV1{}, false, errors.Join(err, perr)
	}
	return snap, true, nil
}

func get(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerBackend) Close() error { return b.db.Close() }

// badgerLogger routes badger's own logging through logrus.
type badgerLogger struct{ e *logrus.Entry }

func (l badgerLogger) Errorf(f string, args ...any)   { l.e.Errorf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...any) { l.e.Warnf(f, args...) }
func (l badgerLogger) Infof(f string, args ...any)    { l.e.Infof(f, args...) }
func (l badgerLogger) Debugf(f string, args ...any)   { l.e.Debugf(f, args...) }
