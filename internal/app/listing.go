package app

import (
	"sort"
	"strings"
)

// ListQuery selects, filters and orders rows of an admin listing.
type ListQuery struct {
	// Search matches case-insensitively against every column.
	Search string
	// Filters maps a column key to the exact value (case-insensitive) it
	// must have.
	Filters map[string]string
	SortBy  string
	Desc    bool
}

// Column describes one sortable, filterable column of a listing.
type Column[T any] struct {
	Key   string
	Value func(T) string
	// Less overrides string ordering, e.g. for dates and amounts.
	Less func(a, b T) bool
}

// SortFilter applies q to items. Unknown column keys are rejected.
func SortFilter[T any](items []T, columns []Column[T], q ListQuery) ([]T, error) {
	byKey := make(map[string]Column[T], len(columns))
	for _, c := range columns {
		byKey[c.Key] = c
	}
	for key := range q.Filters {
		if _, ok := byKey[key]; !ok {
			return nil, newValidationError("filter", "unknown column %q", key)
		}
	}
	var sortCol *Column[T]
	if q.SortBy != "" {
		c, ok := byKey[q.SortBy]
		if !ok {
			return nil, newValidationError("sort", "unknown column %q", q.SortBy)
		}
		sortCol = &c
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !matchesFilters(item, byKey, q.Filters) {
			continue
		}
		if search != "" && !matchesSearch(item, columns, search) {
			continue
		}
		out = append(out, item)
	}

	if sortCol != nil {
		less := sortCol.Less
		if less == nil {
			value := sortCol.Value
			less = func(a, b T) bool {
				return strings.ToLower(value(a)) < strings.ToLower(value(b))
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if q.Desc {
				return less(out[j], out[i])
			}
			return less(out[i], out[j])
		})
	}
	return out, nil
}

func matchesFilters[T any](item T, byKey map[string]Column[T], filters map[string]string) bool {
	for key, want := range filters {
		if !strings.EqualFold(strings.TrimSpace(byKey[key].Value(item)), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}

func matchesSearch[T any](item T, columns []Column[T], search string) bool {
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c.Value(item)), search) {
			return true
		}
	}
	return false
}
