// Package reorder maintains the dense order invariant for positionally
// ordered collections: across all members, order values are exactly
// {0..N-1}, unique and contiguous.
//
// Plan is pure and computes the minimal set of shifts for one move.
// Apply executes a plan as a batch of individually-atomic store updates;
// there is no cross-call transaction, so an interrupted Apply leaves the
// collection non-dense. That condition is detected by CheckDense and
// reported as a *RepairError rather than silently tolerated or auto-healed.
package reorder

import (
	"fmt"
	"sort"

	"github.com/hireloop/hireloop/pkg/store"
)

// OrderField is the record field holding a member's position.
const OrderField = "order"

// Shift moves the member currently at order From to order To.
type Shift struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ValidationError reports a reorder position outside [0, N).
// It is raised before any store write.
type ValidationError struct {
	Field string // "fromOrder" or "toOrder"
	Value int
	N     int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reorder: %s %d out of range [0, %d)", e.Field, e.Value, e.N)
}

// RepairError reports a violated dense-order invariant. Reorders on the
// affected collection are refused until the order set is repaired out of
// band.
type RepairError struct {
	Duplicates []int // order values held by more than one member
	Missing    []int // values in [0, N) held by no member
	OutOfRange []int // values below 0 or at/above N
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("reorder: order invariant violated: duplicates=%v missing=%v outOfRange=%v",
		e.Duplicates, e.Missing, e.OutOfRange)
}

// Plan computes the shifts that move the member at fromOrder to toOrder in
// a collection of n members.
//
//   - fromOrder < toOrder: members in (fromOrder, toOrder] shift down by 1.
//   - fromOrder > toOrder: members in [toOrder, fromOrder) shift up by 1.
//   - fromOrder == toOrder: empty plan, zero writes.
//
// The moved member always lands exactly at toOrder and appears last in the
// plan. Out-of-range positions fail with *ValidationError.
func Plan(fromOrder, toOrder, n int) ([]Shift, error) {
	if fromOrder < 0 || fromOrder >= n {
		return nil, &ValidationError{Field: "fromOrder", Value: fromOrder, N: n}
	}
	if toOrder < 0 || toOrder >= n {
		return nil, &ValidationError{Field: "toOrder", Value: toOrder, N: n}
	}
	if fromOrder == toOrder {
		return nil, nil
	}

	var shifts []Shift
	if fromOrder < toOrder {
		for o := fromOrder + 1; o <= toOrder; o++ {
			shifts = append(shifts, Shift{From: o, To: o - 1})
		}
	} else {
		for o := toOrder; o < fromOrder; o++ {
			shifts = append(shifts, Shift{From: o, To: o + 1})
		}
	}
	shifts = append(shifts, Shift{From: fromOrder, To: toOrder})
	return shifts, nil
}

// Apply executes a plan against one collection. Members are resolved to
// record IDs from a single pre-state snapshot, then each shift becomes one
// atomic UpdateFields call. An unresolvable shift means the pre-state was
// already non-dense and fails with *RepairError.
func Apply(engine store.Engine, c store.Collection, plan []Shift) error {
	if len(plan) == 0 {
		return nil
	}

	recs, err := engine.List(c, nil)
	if err != nil {
		return err
	}

	byOrder := make(map[int]store.RecordID, len(recs))
	for _, rec := range recs {
		o, ok := rec.Int(OrderField)
		if !ok {
			continue
		}
		byOrder[o] = rec.ID
	}

	for _, s := range plan {
		if _, ok := byOrder[s.From]; !ok {
			return &RepairError{Missing: []int{s.From}}
		}
	}

	for _, s := range plan {
		if _, err := engine.UpdateFields(c, byOrder[s.From], map[string]any{OrderField: s.To}); err != nil {
			return err
		}
	}
	return nil
}

// ShiftOrder returns the order a member at cur ends up with after the
// member at from moves to to. It mirrors Plan without materializing the
// shift list, so callers can preview a move against positions they hold.
func ShiftOrder(cur, from, to int) int {
	switch {
	case cur == from:
		return to
	case from < to && cur > from && cur <= to:
		return cur - 1
	case from > to && cur >= to && cur < from:
		return cur + 1
	default:
		return cur
	}
}

// CheckDense verifies that orders form exactly {0..N-1}. A violation is
// returned as *RepairError listing every duplicate, missing and
// out-of-range value.
func CheckDense(orders []int) error {
	n := len(orders)
	seen := make(map[int]int, n)
	var outOfRange []int
	for _, o := range orders {
		if o < 0 || o >= n {
			outOfRange = append(outOfRange, o)
			continue
		}
		seen[o]++
	}

	var duplicates, missing []int
	for o := 0; o < n; o++ {
		switch {
		case seen[o] == 0:
			missing = append(missing, o)
		case seen[o] > 1:
			duplicates = append(duplicates, o)
		}
	}

	if len(duplicates) == 0 && len(missing) == 0 && len(outOfRange) == 0 {
		return nil
	}
	sort.Ints(outOfRange)
	return &RepairError{Duplicates: duplicates, Missing: missing, OutOfRange: outOfRange}
}

// Orders extracts the order values of a record set, for CheckDense.
func Orders(recs []*store.Record) []int {
	out := make([]int, 0, len(recs))
	for _, rec := range recs {
		if o, ok := rec.Int(OrderField); ok {
			out = append(out, o)
		}
	}
	return out
}
