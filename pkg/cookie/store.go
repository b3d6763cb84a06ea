package cookie

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Store persists cookies across processes. Keys are opaque to the store.
type Store interface {
	// Put stores c under key, replacing any previous cookie.
	Put(key string, c *Cookie) error

	// Delete removes key. No error if the key does not exist.
	Delete(key string) error

	// All iterates over every stored cookie in key order.
	All() iter.Seq2[*Cookie, error]

	// Clear removes every cookie.
	Clear() error

	// Close releases any resources held by the store.
	Close() error
}

// Memory is an in-memory Store. Cookies are encoded on Put so that it
// behaves like a persistent store with respect to aliasing.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(key string, c *Cookie) error {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) All() iter.Seq2[*Cookie, error] {
	return func(yield func(*Cookie, error) bool) {
		m.mu.RLock()
		keys := slices.Sorted(maps.Keys(m.data))
		vals := make([][]byte, len(keys))
		for i, k := range keys {
			vals[i] = m.data[k]
		}
		m.mu.RUnlock()
		for _, v := range vals {
			var c Cookie
			err := msgpack.Unmarshal(v, &c)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(&c, nil) {
				return
			}
		}
	}
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}

func (m *Memory) Close() error { return nil }

var badgerPrefix = []byte("cookie:")

// Badger is a Store backed by BadgerDB v4. Cookies are msgpack encoded.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
}

// OpenBadger opens a BadgerDB-backed Store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cookie: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(key string, c *Cookie) error {
	v, err := msgpack.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), v)
	})
}

func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) All() iter.Seq2[*Cookie, error] {
	return func(yield func(*Cookie, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = badgerPrefix
			it := txn.NewIterator(iterOpts)
			defer it.Close()

			for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
				var c Cookie
				err := it.Item().Value(func(val []byte) error {
					return msgpack.Unmarshal(val, &c)
				})
				if err != nil {
					if !yield(nil, err) {
						return nil
					}
					continue
				}
				if !yield(&c, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

func (b *Badger) Clear() error {
	return b.db.DropPrefix(badgerPrefix)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func badgerKey(key string) []byte {
	return append(slices.Clone(badgerPrefix), key...)
}

// badgerLogger routes badger warnings and errors to slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { slog.Error("badger: " + sprintf(f, v...)) }
func (badgerLogger) Warningf(f string, v ...interface{}) { slog.Warn("badger: " + sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}

func sprintf(f string, v ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}
