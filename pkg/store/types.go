// Package store provides the persistent store for hireloop: durable keyed
// collections with secondary indexes.
//
// Two engines implement the same contract:
//   - MemoryEngine: thread-safe in-memory maps, for tests and demos
//   - BadgerEngine: persistent disk-based storage using BadgerDB
//
// Every call is atomic for the record(s) it touches; there are no cross-call
// transactions. A caller issuing N sequential UpdateFields calls as one
// logical operation gets no multi-record atomicity — the reorder machinery
// depends on this being a declared limitation rather than a hidden one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors returned by store engines.
var (
	// ErrNotFound is returned when a record does not exist in the collection.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by BulkPut when a record ID is already taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidID is returned when a record ID is empty.
	ErrInvalidID = errors.New("invalid record ID")
	// ErrInvalidData is returned when a nil or malformed record is supplied.
	ErrInvalidData = errors.New("invalid record data")
	// ErrUnknownCollection is returned for a collection name outside Collections().
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// RecordID uniquely identifies a record within its collection.
type RecordID string

// Collection names a keyed collection of records.
type Collection string

// The collections managed by the store. A record belongs to exactly one.
const (
	Jobs        Collection = "jobs"
	Candidates  Collection = "candidates"
	Notes       Collection = "notes"
	Timeline    Collection = "timeline"
	Assessments Collection = "assessments"
	Responses   Collection = "responses"
)

// Collections returns every known collection, in a stable order.
func Collections() []Collection {
	return []Collection{Jobs, Candidates, Notes, Timeline, Assessments, Responses}
}

// indexedFields lists the string-valued fields maintained as secondary
// indexes per collection. ListIndexed only serves fields registered here.
var indexedFields = map[Collection][]string{
	Jobs:        {"status"},
	Candidates:  {"stage", "jobId"},
	Notes:       {"candidateId"},
	Timeline:    {"candidateId"},
	Assessments: {"jobId"},
	Responses:   {"assessmentId"},
}

// IndexedFields returns the secondary-index field names for a collection.
func IndexedFields(c Collection) []string {
	fields := indexedFields[c]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// knownCollection reports whether c is one of the managed collections.
func knownCollection(c Collection) bool {
	_, ok := indexedFields[c]
	return ok
}

// indexedField reports whether field is registered as a secondary index on c.
func indexedField(c Collection, field string) bool {
	for _, f := range indexedFields[c] {
		if f == field {
			return true
		}
	}
	return false
}

// applyPatch merges a field patch into a record in place and bumps UpdatedAt.
// A nil patch value deletes the field. Patch values are deep-copied so the
// caller's maps and slices never alias stored state.
func applyPatch(rec *Record, patch map[string]any) {
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = copyValue(v)
	}
	rec.UpdatedAt = time.Now()
}

// Record is an entity with a stable identifier, domain fields, and
// creation/update timestamps. Domain fields live in Fields as JSON-shaped
// values (string, float64, bool, []any, []string, map[string]any).
type Record struct {
	ID        RecordID       `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// String returns the string form of a field, or "" when the field is
// absent or not a string.
func (r *Record) String(field string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	s, _ := r.Fields[field].(string)
	return s
}

// Int returns the integer form of a field. JSON decoding produces float64;
// both int and float64 representations are accepted.
func (r *Record) Int(field string) (int, bool) {
	if r == nil || r.Fields == nil {
		return 0, false
	}
	switch v := r.Fields[field].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Engine is the persistent store contract shared by all implementations.
//
// Get returns ErrNotFound for absent records. List applies pred to every
// record of the collection (nil pred matches all); iteration order is
// unspecified and callers sort. ListIndexed serves registered secondary
// indexes without a full scan. Put inserts or replaces. UpdateFields is an
// atomic read-modify-write of the named fields on one record and bumps
// UpdatedAt. BulkPut validates the whole batch before inserting any of it.
type Engine interface {
	Get(c Collection, id RecordID) (*Record, error)
	List(c Collection, pred func(*Record) bool) ([]*Record, error)
	ListIndexed(c Collection, field, value string) ([]*Record, error)
	Put(c Collection, rec *Record) error
	BulkPut(c Collection, recs []*Record) error
	UpdateFields(c Collection, id RecordID, patch map[string]any) (*Record, error)
	Delete(c Collection, id RecordID) error
	Count(c Collection) (int, error)
	Close() error
}

// copyRecord creates a deep copy of a record so engines never hand out
// aliases into stored state.
func copyRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	return &Record{
		ID:        r.ID,
		Fields:    copyFields(r.Fields),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func copyFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = copyValue(v)
	}
	return copied
}

// copyValue deep-copies the JSON-shaped value space. Scalars are returned
// as-is; maps and slices are cloned recursively.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyFields(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = copyValue(elem)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// indexValue extracts the indexable string form of a field. Only string
// fields participate in secondary indexes.
func indexValue(r *Record, field string) (string, bool) {
	if r == nil || r.Fields == nil {
		return "", false
	}
	s, ok := r.Fields[field].(string)
	return s, ok
}

// EncodeFields marshals a typed payload into the generic JSON-shaped field
// map records carry.
func EncodeFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return fields, nil
}

// DecodeFields unmarshals a field map into a typed payload.
func DecodeFields(fields map[string]any, v any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}
