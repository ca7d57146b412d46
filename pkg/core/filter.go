package core

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is a conjunction of exact-match predicates over chunk or document
// metadata. It compiles to parameterized SQL over json_extract; key paths
// and values are never interpolated into the query text.
type Filter struct {
	clauses []filterClause
}

type filterClause struct {
	key   string
	value any
}

// NewFilter returns an empty filter. An empty filter matches everything.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq appends an equality predicate on a metadata key.
func (f *Filter) Eq(key string, value any) *Filter {
	f.clauses = append(f.clauses, filterClause{key: key, value: value})
	return f
}

// Len returns the number of predicates.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.clauses)
}

// FilterFromMap converts a flat key/value map into a Filter with predicates
// in deterministic key order.
func FilterFromMap(m map[string]any) *Filter {
	f := NewFilter()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.Eq(k, m[k])
	}
	return f
}

// toSQL compiles the filter into an AND-joined predicate list against the
// metadata column of the given table alias, returning the SQL fragment and
// its bind arguments. Malformed keys or unsupported value types are
// ErrValidation, never silently dropped.
func (f *Filter) toSQL(alias string) (string, []any, error) {
	if f == nil || len(f.clauses) == 0 {
		return "", nil, nil
	}

	preds := make([]string, 0, len(f.clauses))
	args := make([]any, 0, len(f.clauses))
	for _, c := range f.clauses {
		if err := validateFilterKey(c.key); err != nil {
			return "", nil, err
		}
		value, err := normalizeFilterValue(c.key, c.value)
		if err != nil {
			return "", nil, err
		}
		// The key travels as a bind argument inside the JSON path, so a
		// hostile key can never alter the statement.
		preds = append(preds, fmt.Sprintf("json_extract(%s.metadata, '$.' || ?) = ?", alias))
		args = append(args, c.key, value)
	}
	return strings.Join(preds, " AND "), args, nil
}

func validateFilterKey(key string) error {
	if key == "" {
		return validationf("empty filter key")
	}
	for _, r := range key {
		// JSON path syntax characters would change which field the
		// predicate addresses.
		if r < 0x20 || strings.ContainsRune(`."'[]$`, r) {
			return validationf("filter key %q contains invalid character %q", key, r)
		}
	}
	return nil
}

// normalizeFilterValue maps a predicate value to a driver-bindable scalar
// comparable with json_extract output.
func normalizeFilterValue(key string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		// json_extract yields 0/1 for JSON booleans.
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case nil:
		return nil, validationf("filter key %q has nil value", key)
	default:
		return nil, validationf("filter key %q has unsupported value type %T", key, value)
	}
}
