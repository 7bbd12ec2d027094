// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface; each call runs in its own Badger
// transaction, so individual records are never observable half-written.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixRecord = byte(0x01) // record: collection 0x00 id -> JSON(Record)
	prefixIndex  = byte(0x02) // index:  collection 0x00 field 0x00 value 0x00 id -> []byte{}
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Records: 0x01 + collection + 0x00 + id -> JSON(Record)
//   - Indexes: 0x02 + collection + 0x00 + field + 0x00 + value + 0x00 + id -> empty
//
// Collection counts are cached in atomics so Count is O(1); they are
// initialized by a one-time scan on open and maintained on every mutation.
type BadgerEngine struct {
	db       *badger.DB
	mu       sync.RWMutex // Protects closed
	closed   bool
	inMemory bool

	counts map[Collection]*atomic.Int64
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, Badger's logging is silenced.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent store engine with default settings.
//
// Example:
//
//	engine, err := store.NewBadgerEngine("./data/hireloop")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
// Data is not persisted and is lost when the engine is closed. Useful for
// tests that need persistent-storage semantics without disk I/O.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	engine := &BadgerEngine{
		db:       db,
		inMemory: opts.InMemory,
		counts:   make(map[Collection]*atomic.Int64, len(indexedFields)),
	}
	for c := range indexedFields {
		engine.counts[c] = &atomic.Int64{}
	}

	// One-time scan so Count is O(1) afterwards.
	if err := engine.initializeCounts(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize counts: %w", err)
	}

	return engine, nil
}

// IsInMemory returns true if the engine is running in memory-only mode.
func (b *BadgerEngine) IsInMemory() bool {
	return b.inMemory
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// recordKey creates a key for storing a record.
func recordKey(c Collection, id RecordID) []byte {
	key := make([]byte, 0, 1+len(c)+1+len(id))
	key = append(key, prefixRecord)
	key = append(key, []byte(c)...)
	key = append(key, 0x00)
	key = append(key, []byte(id)...)
	return key
}

// collectionPrefix returns the prefix for scanning all records of a collection.
func collectionPrefix(c Collection) []byte {
	key := make([]byte, 0, 1+len(c)+1)
	key = append(key, prefixRecord)
	key = append(key, []byte(c)...)
	key = append(key, 0x00)
	return key
}

// fieldIndexKey creates a key for one secondary-index entry.
func fieldIndexKey(c Collection, field, value string, id RecordID) []byte {
	key := make([]byte, 0, 1+len(c)+1+len(field)+1+len(value)+1+len(id))
	key = append(key, prefixIndex)
	key = append(key, []byte(c)...)
	key = append(key, 0x00)
	key = append(key, []byte(field)...)
	key = append(key, 0x00)
	key = append(key, []byte(value)...)
	key = append(key, 0x00)
	key = append(key, []byte(id)...)
	return key
}

// fieldIndexPrefix returns the prefix for scanning one index bucket.
func fieldIndexPrefix(c Collection, field, value string) []byte {
	key := make([]byte, 0, 1+len(c)+1+len(field)+1+len(value)+1)
	key = append(key, prefixIndex)
	key = append(key, []byte(c)...)
	key = append(key, 0x00)
	key = append(key, []byte(field)...)
	key = append(key, 0x00)
	key = append(key, []byte(value)...)
	key = append(key, 0x00)
	return key
}

// extractIDFromIndexKey pulls the record ID out of an index key (final segment).
func extractIDFromIndexKey(key []byte) RecordID {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0x00 {
			return RecordID(key[i+1:])
		}
	}
	return ""
}

// ============================================================================
// Transaction helpers
// ============================================================================

func (b *BadgerEngine) ensureOpen() error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}
	return nil
}

func (b *BadgerEngine) withView(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.View(fn)
}

func (b *BadgerEngine) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Update(fn)
}

// initializeCounts scans record prefixes once to seed the cached counts.
func (b *BadgerEngine) initializeCounts() error {
	return b.db.View(func(txn *badger.Txn) error {
		for c := range indexedFields {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = collectionPrefix(c)
			it := txn.NewIterator(opts)

			var n int64
			for it.Rewind(); it.Valid(); it.Next() {
				n++
			}
			it.Close()
			b.counts[c].Store(n)
		}
		return nil
	})
}

// ============================================================================
// Record encoding
// ============================================================================

func encodeRecord(rec *Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// getRecordInTxn fetches and decodes one record inside an open transaction.
func getRecordInTxn(txn *badger.Txn, c Collection, id RecordID) (*Record, error) {
	item, err := txn.Get(recordKey(c, id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = item.Value(func(val []byte) error {
		var decodeErr error
		rec, decodeErr = decodeRecord(val)
		return decodeErr
	})
	return rec, err
}

// setIndexesInTxn writes the index entries for every indexed field of rec.
func setIndexesInTxn(txn *badger.Txn, c Collection, rec *Record) error {
	for _, field := range indexedFields[c] {
		value, ok := indexValue(rec, field)
		if !ok {
			continue
		}
		if err := txn.Set(fieldIndexKey(c, field, value, rec.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndexesInTxn removes the index entries for every indexed field of rec.
func deleteIndexesInTxn(txn *badger.Txn, c Collection, rec *Record) error {
	for _, field := range indexedFields[c] {
		value, ok := indexValue(rec, field)
		if !ok {
			continue
		}
		if err := txn.Delete(fieldIndexKey(c, field, value, rec.ID)); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Engine operations
// ============================================================================

// Get retrieves a record by ID.
func (b *BadgerEngine) Get(c Collection, id RecordID) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	var rec *Record
	err := b.withView(func(txn *badger.Txn) error {
		var getErr error
		rec, getErr = getRecordInTxn(txn, c, id)
		return getErr
	})
	return rec, err
}

// List returns all records matching pred (nil pred matches everything).
func (b *BadgerEngine) List(c Collection, pred func(*Record) bool) ([]*Record, error) {
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	out := make([]*Record, 0)
	err := b.withView(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = collectionPrefix(c)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, decodeErr := decodeRecord(val)
				if decodeErr != nil {
					return decodeErr
				}
				if pred == nil || pred(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListIndexed returns all records whose indexed field equals value.
func (b *BadgerEngine) ListIndexed(c Collection, field, value string) ([]*Record, error) {
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}
	if !indexedField(c, field) {
		return nil, ErrInvalidData
	}

	out := make([]*Record, 0)
	err := b.withView(func(txn *badger.Txn) error {
		prefix := fieldIndexPrefix(c, field, value)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)

		var ids []RecordID
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, extractIDFromIndexKey(it.Item().Key()))
		}
		it.Close()

		for _, id := range ids {
			rec, err := getRecordInTxn(txn, c, id)
			if err == ErrNotFound {
				continue // dangling index entry, skip
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put inserts or replaces a record.
func (b *BadgerEngine) Put(c Collection, rec *Record) error {
	if rec == nil {
		return ErrInvalidData
	}
	if rec.ID == "" {
		return ErrInvalidID
	}
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	wasInsert := false
	err := b.withUpdate(func(txn *badger.Txn) error {
		existing, err := getRecordInTxn(txn, c, rec.ID)
		switch err {
		case nil:
			if err := deleteIndexesInTxn(txn, c, existing); err != nil {
				return err
			}
		case ErrNotFound:
			wasInsert = true
		default:
			return err
		}

		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(c, rec.ID), data); err != nil {
			return err
		}
		return setIndexesInTxn(txn, c, rec)
	})

	if err == nil && wasInsert {
		b.counts[c].Add(1)
	}
	return err
}

// BulkPut inserts a batch of records. The whole batch is validated before any
// record is stored; an existing ID fails the batch with ErrAlreadyExists.
func (b *BadgerEngine) BulkPut(c Collection, recs []*Record) error {
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	var inserted int64
	err := b.withUpdate(func(txn *badger.Txn) error {
		for _, rec := range recs {
			if rec == nil {
				return ErrInvalidData
			}
			if rec.ID == "" {
				return ErrInvalidID
			}
			if _, err := txn.Get(recordKey(c, rec.ID)); err == nil {
				return ErrAlreadyExists
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}

		for _, rec := range recs {
			data, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(c, rec.ID), data); err != nil {
				return err
			}
			if err := setIndexesInTxn(txn, c, rec); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})

	if err == nil {
		b.counts[c].Add(inserted)
	}
	return err
}

// UpdateFields applies a patch to the named fields of one record inside a
// single transaction and bumps UpdatedAt. Returns the updated record.
func (b *BadgerEngine) UpdateFields(c Collection, id RecordID, patch map[string]any) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	var updated *Record
	err := b.withUpdate(func(txn *badger.Txn) error {
		existing, err := getRecordInTxn(txn, c, id)
		if err != nil {
			return err
		}

		if err := deleteIndexesInTxn(txn, c, existing); err != nil {
			return err
		}

		applyPatch(existing, patch)

		data, err := encodeRecord(existing)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(c, id), data); err != nil {
			return err
		}
		if err := setIndexesInTxn(txn, c, existing); err != nil {
			return err
		}

		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a record and its index entries.
func (b *BadgerEngine) Delete(c Collection, id RecordID) error {
	if id == "" {
		return ErrInvalidID
	}
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		existing, err := getRecordInTxn(txn, c, id)
		if err != nil {
			return err
		}
		if err := deleteIndexesInTxn(txn, c, existing); err != nil {
			return err
		}
		return txn.Delete(recordKey(c, id))
	})

	if err == nil {
		b.counts[c].Add(-1)
	}
	return err
}

// Count returns the cached number of records in a collection.
func (b *BadgerEngine) Count(c Collection) (int, error) {
	if !knownCollection(c) {
		return 0, ErrUnknownCollection
	}
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	return int(b.counts[c].Load()), nil
}

// Close closes the underlying BadgerDB.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Verify BadgerEngine implements Engine interface
var _ Engine = (*BadgerEngine)(nil)
