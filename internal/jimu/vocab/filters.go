package vocab

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FilterKey names one predicate of a Filters set.
type FilterKey string

const (
	FilterStatus   FilterKey = "status"
	FilterBrand    FilterKey = "brand"
	FilterRegion   FilterKey = "region"
	FilterLowStock FilterKey = "low_stock"
)

// FilterKeys is the fixed order used whenever a Filters set is rendered or
// hashed. Two equal sets always produce the same text.
var FilterKeys = []FilterKey{FilterStatus, FilterBrand, FilterRegion, FilterLowStock}

// Valid reports whether k is one of the supported predicate keys.
func (k FilterKey) Valid() bool {
	for _, known := range FilterKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Filters maps predicate keys to scalar values. A missing key means
// unconstrained; low_stock uses the value "true".
type Filters map[FilterKey]string

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	for _, k := range FilterKeys {
		if f[k] != "" {
			return false
		}
	}
	return true
}

// Clone returns an independent copy with empty values dropped.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Merge returns a new set where every non-empty value of override replaces
// the value in f. Neither input is modified.
func (f Filters) Merge(override Filters) Filters {
	out := f.Clone()
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// String renders the active predicates as "status: unpaid, region: north"
// in FilterKeys order.
func (f Filters) String() string {
	parts := make([]string, 0, len(FilterKeys))
	for _, k := range FilterKeys {
		if v := f[k]; v != "" {
			parts = append(parts, string(k)+": "+v)
		}
	}
	return strings.Join(parts, ", ")
}

// Hash returns a short stable digest of the active predicates, used to key
// advisory scope locks.
func (f Filters) Hash() string {
	sum := sha256.Sum256([]byte(f.String()))
	return hex.EncodeToString(sum[:8])
}

// FromStrings converts a loosely typed map (CLI flags, chat flags, JSON) into
// Filters, ignoring unknown keys and empty values.
func FromStrings(m map[string]string) Filters {
	out := make(Filters)
	for k, v := range m {
		key := FilterKey(strings.ToLower(strings.TrimSpace(k)))
		if key.Valid() && strings.TrimSpace(v) != "" {
			out[key] = strings.ToLower(strings.TrimSpace(v))
		}
	}
	return out
}
