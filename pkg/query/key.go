// Package query implements the read-side cache and its reconciliation
// machinery: canonical query keys, stale-while-revalidate reads with
// coalesced fetches, generation-based logical cancellation, and a
// background scheduler that revalidates stale entries.
package query

import (
	"net/url"
	"strings"
)

// Key identifies one cached query. Two queries with the same identity
// (resource plus parameters, regardless of parameter order) produce the
// same Key. Build keys only through MakeKey so the canonical form holds.
type Key string

// MakeKey canonicalizes a resource and its parameters into a Key:
// parameters are sorted by name and encoded query-string style, so
// {page:1, status:active} and {status:active, page:1} collide.
func MakeKey(resource string, params map[string]string) Key {
	if len(params) == 0 {
		return Key(resource)
	}
	vals := make(url.Values, len(params))
	for k, v := range params {
		vals.Set(k, v)
	}
	return Key(resource + "?" + vals.Encode())
}

// KeyPrefix returns the prefix shared by every key of one resource: its
// parameterized list variants and its record keys. Use with KeysWithPrefix
// or MarkStalePrefix to hit all of them at once.
func KeyPrefix(resource string) Key {
	return Key(resource)
}

// HasPrefix reports whether k belongs to the prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(string(k), string(prefix))
}
