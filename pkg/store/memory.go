// MemoryEngine is a thread-safe in-memory store for testing and demos.
package store

import (
	"sync"
)

// MemoryEngine is an in-memory implementation of Engine.
// It's useful for:
// - Unit testing (no disk I/O)
// - The demo command (ephemeral data)
// - Small datasets that fit in RAM
type MemoryEngine struct {
	mu      sync.RWMutex
	records map[Collection]map[RecordID]*Record

	// Secondary indexes: collection+field+value -> record IDs
	indexes map[string]map[RecordID]struct{}

	closed bool
}

// NewMemoryEngine creates a new in-memory store engine with every known
// collection initialized empty.
func NewMemoryEngine() *MemoryEngine {
	records := make(map[Collection]map[RecordID]*Record, len(indexedFields))
	for c := range indexedFields {
		records[c] = make(map[RecordID]*Record)
	}
	return &MemoryEngine{
		records: records,
		indexes: make(map[string]map[RecordID]struct{}),
	}
}

// indexMapKey builds the composite key for one index bucket.
func indexMapKey(c Collection, field, value string) string {
	return string(c) + "\x00" + field + "\x00" + value
}

// Get retrieves a record by ID.
func (m *MemoryEngine) Get(c Collection, id RecordID) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, exists := m.records[c][id]
	if !exists {
		return nil, ErrNotFound
	}

	return copyRecord(rec), nil
}

// List returns all records matching pred (nil pred matches everything).
func (m *MemoryEngine) List(c Collection, pred func(*Record) bool) ([]*Record, error) {
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Record, 0, len(m.records[c]))
	for _, rec := range m.records[c] {
		if pred == nil || pred(rec) {
			out = append(out, copyRecord(rec))
		}
	}

	return out, nil
}

// ListIndexed returns all records whose indexed field equals value.
func (m *MemoryEngine) ListIndexed(c Collection, field, value string) ([]*Record, error) {
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}
	if !indexedField(c, field) {
		return nil, ErrInvalidData
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ids := m.indexes[indexMapKey(c, field, value)]
	if ids == nil {
		return []*Record{}, nil
	}

	out := make([]*Record, 0, len(ids))
	for id := range ids {
		if rec := m.records[c][id]; rec != nil {
			out = append(out, copyRecord(rec))
		}
	}

	return out, nil
}

// Put inserts or replaces a record.
func (m *MemoryEngine) Put(c Collection, rec *Record) error {
	if rec == nil {
		return ErrInvalidData
	}
	if rec.ID == "" {
		return ErrInvalidID
	}
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if existing, ok := m.records[c][rec.ID]; ok {
		m.removeFromIndexes(c, existing)
	}

	stored := copyRecord(rec)
	m.records[c][rec.ID] = stored
	m.addToIndexes(c, stored)

	return nil
}

// BulkPut inserts a batch of records. The whole batch is validated before
// any record is stored; an existing ID fails the batch with ErrAlreadyExists.
func (m *MemoryEngine) BulkPut(c Collection, recs []*Record) error {
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for _, rec := range recs {
		if rec == nil {
			return ErrInvalidData
		}
		if rec.ID == "" {
			return ErrInvalidID
		}
		if _, exists := m.records[c][rec.ID]; exists {
			return ErrAlreadyExists
		}
	}

	for _, rec := range recs {
		stored := copyRecord(rec)
		m.records[c][rec.ID] = stored
		m.addToIndexes(c, stored)
	}

	return nil
}

// UpdateFields applies a patch to the named fields of one record, atomically
// for that record, and bumps UpdatedAt. A nil value in the patch deletes the
// field. Returns the updated record.
func (m *MemoryEngine) UpdateFields(c Collection, id RecordID, patch map[string]any) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if !knownCollection(c) {
		return nil, ErrUnknownCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	existing, exists := m.records[c][id]
	if !exists {
		return nil, ErrNotFound
	}

	m.removeFromIndexes(c, existing)
	applyPatch(existing, patch)
	m.addToIndexes(c, existing)

	return copyRecord(existing), nil
}

// Delete removes a record.
func (m *MemoryEngine) Delete(c Collection, id RecordID) error {
	if id == "" {
		return ErrInvalidID
	}
	if !knownCollection(c) {
		return ErrUnknownCollection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	rec, exists := m.records[c][id]
	if !exists {
		return ErrNotFound
	}

	m.removeFromIndexes(c, rec)
	delete(m.records[c], id)

	return nil
}

// Count returns the number of records in a collection.
func (m *MemoryEngine) Count(c Collection) (int, error) {
	if !knownCollection(c) {
		return 0, ErrUnknownCollection
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	return len(m.records[c]), nil
}

// Close closes the store engine.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.indexes = nil

	return nil
}

func (m *MemoryEngine) addToIndexes(c Collection, rec *Record) {
	for _, field := range indexedFields[c] {
		value, ok := indexValue(rec, field)
		if !ok {
			continue
		}
		key := indexMapKey(c, field, value)
		if m.indexes[key] == nil {
			m.indexes[key] = make(map[RecordID]struct{})
		}
		m.indexes[key][rec.ID] = struct{}{}
	}
}

func (m *MemoryEngine) removeFromIndexes(c Collection, rec *Record) {
	for _, field := range indexedFields[c] {
		value, ok := indexValue(rec, field)
		if !ok {
			continue
		}
		if bucket := m.indexes[indexMapKey(c, field, value)]; bucket != nil {
			delete(bucket, rec.ID)
		}
	}
}

// Verify MemoryEngine implements Engine interface
var _ Engine = (*MemoryEngine)(nil)
