// Package badgerkv provides a kvs.Engine backed by a local BadgerDB.
//
// Every index shares one database. A stored key is the 16 byte index id
// followed by the caller's key, so indexes never collide and an index's keys
// are contiguous. An index exists once a key has been written to it; its
// marker is the bare index id.
package badgerkv

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// Options configures the engine.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// Workers is the number of executor goroutines.
	Workers int
	// QueueSize is the executor queue length.
	QueueSize int
	// MaxValueSize rejects larger puts; zero disables the limit.
	MaxValueSize int
}

// Engine is a BadgerDB kvs.Engine.
type Engine struct {
	db   *badger.DB
	exec *kvs.Executor
	opts Options
}

// Open opens the database and starts the executor.
func Open(opts Options) (*Engine, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}

	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	log.Info().
		Str("dir", opts.Dir).
		Bool("in_memory", opts.InMemory).
		Msg("Opened badger KVS engine")

	return &Engine{
		db:   db,
		exec: kvs.NewExecutor("badger", opts.Workers, opts.QueueSize),
		opts: opts,
	}, nil
}

// Name implements kvs.Engine.
func (e *Engine) Name() string {
	return "badger"
}

// Launch implements kvs.Engine.
func (e *Engine) Launch(op *kvs.OpContext) error {
	if e.db.IsClosed() {
		return kvs.ErrEngineClosed
	}

	return e.exec.Submit(func() {
		op.Complete(e.execute(op))
	})
}

func (e *Engine) execute(op *kvs.OpContext) error {
	var err error

	switch op.Kind() {
	case kvs.OpGet:
		err = e.get(op)
	case kvs.OpPut:
		err = e.put(op)
	case kvs.OpDelete:
		err = e.delete(op)
	default:
		return fmt.Errorf("unsupported operation %s: %w", op.Kind(), kvs.ErrInternal)
	}

	return mapError(err)
}

func (e *Engine) get(op *kvs.OpContext) error {
	id := op.Index()

	return e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(id, op.Key(0)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if !indexExists(txn, id) {
				return kvs.ErrIndexNotFound
			}

			return kvs.ErrNotFound
		}

		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		return op.SetValue(0, value)
	})
}

func (e *Engine) put(op *kvs.OpContext) error {
	value, err := op.Value(0)
	if err != nil {
		return err
	}

	if e.opts.MaxValueSize > 0 && len(value) > e.opts.MaxValueSize {
		return kvs.ErrValueTooLarge
	}

	id := op.Index()
	key := dbKey(id, op.Key(0))

	return e.db.Update(func(txn *badger.Txn) error {
		if op.IfAbsent() {
			_, err := txn.Get(key)
			if err == nil {
				return kvs.ErrKeyExists
			}

			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		if !indexExists(txn, id) {
			err := txn.Set(id[:], nil)
			if err != nil {
				return err
			}
		}

		return txn.Set(key, value)
	})
}

func (e *Engine) delete(op *kvs.OpContext) error {
	id := op.Index()
	key := dbKey(id, op.Key(0))

	return e.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return kvs.ErrNotFound
		}

		if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// Close implements kvs.Engine.
func (e *Engine) Close() error {
	if e.db.IsClosed() {
		return nil
	}

	err := e.exec.Stop(10 * time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("Badger KVS executor did not drain")
	}

	return e.db.Close()
}

// DB returns the underlying database.
func (e *Engine) DB() *badger.DB {
	return e.db
}

func dbKey(id kvs.IndexID, key []byte) []byte {
	out := make([]byte, 0, kvs.IndexIDSize+len(key))
	out = append(out, id[:]...)

	return append(out, key...)
}

func indexExists(txn *badger.Txn, id kvs.IndexID) bool {
	_, err := txn.Get(id[:])
	return err == nil
}

// mapError translates badger errors into kvs classes.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case kvs.Classify(err) != kvs.ClassInternal:
		return err
	case errors.Is(err, badger.ErrTxnTooBig), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", kvs.ErrRejected, err)
	case errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return fmt.Errorf("%w: %w", kvs.ErrUnavailable, err)
	default:
		return err
	}
}
