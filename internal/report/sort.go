package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortKeys lists the columns rows can be ordered by.
var SortKeys = []string{"name", "type", "env", "version", "behind", "age", "timestamp", "commit", "author", "action_type"}

// InvalidSortKeyError names a sort column that does not exist.
type InvalidSortKeyError struct {
	Key string
}

func (e *InvalidSortKeyError) Error() string {
	return fmt.Sprintf("invalid sort key %q (valid keys: %s)", e.Key, strings.Join(SortKeys, ", "))
}

var comparators = map[string]func(a, b Row) int{
	"name":        func(a, b Row) int { return cmp.Compare(a.Name, b.Name) },
	"type":        func(a, b Row) int { return cmp.Compare(a.Type, b.Type) },
	"env":         func(a, b Row) int { return cmp.Compare(a.Env, b.Env) },
	"version":     func(a, b Row) int { return cmp.Compare(a.Version, b.Version) },
	"behind":      func(a, b Row) int { return cmp.Compare(a.Behind, b.Behind) },
	"age":         func(a, b Row) int { return cmp.Compare(a.Age, b.Age) },
	"timestamp":   func(a, b Row) int { return a.Timestamp.Compare(b.Timestamp) },
	"commit":      func(a, b Row) int { return cmp.Compare(a.Commit, b.Commit) },
	"author":      func(a, b Row) int { return cmp.Compare(a.Author, b.Author) },
	"action_type": func(a, b Row) int { return cmp.Compare(a.ActionType, b.ActionType) },
}

// Sort orders rows in place by keys, earlier keys taking precedence. The
// sort is stable so rows equal on every key keep their listing order.
func Sort(rows []Row, keys []string, reverse bool) error {
	fns := make([]func(a, b Row) int, 0, len(keys))
	for _, key := range keys {
		fn, ok := comparators[strings.TrimSpace(key)]
		if !ok {
			return &InvalidSortKeyError{Key: key}
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		return nil
	}

	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, fn := range fns {
			if c := fn(a, b); c != 0 {
				if reverse {
					return -c
				}
				return c
			}
		}
		return 0
	})
	return nil
}
