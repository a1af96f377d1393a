package app

import (
	"strconv"
	"testing"
)

type row struct {
	name  string
	count int
}

var rowColumns = []Column[row]{
	{Key: "name", Value: func(r row) string { return r.name }},
	{
		Key:   "count",
		Value: func(r row) string { return strconv.Itoa(r.count) },
		Less:  func(a, b row) bool { return a.count < b.count },
	},
}

func TestSortFilter(t *testing.T) {
	rows := []row{{"bertil", 10}, {"Anna", 2}, {"cecilia", 2}}

	tests := []struct {
		name string
		q    ListQuery
		want []string
	}{
		{name: "unsorted keeps order", q: ListQuery{}, want: []string{"bertil", "Anna", "cecilia"}},
		{name: "string sort ignores case", q: ListQuery{SortBy: "name"}, want: []string{"Anna", "bertil", "cecilia"}},
		{name: "custom less is stable", q: ListQuery{SortBy: "count"}, want: []string{"Anna", "cecilia", "bertil"}},
		{name: "descending", q: ListQuery{SortBy: "count", Desc: true}, want: []string{"bertil", "Anna", "cecilia"}},
		{name: "filter", q: ListQuery{Filters: map[string]string{"count": "2"}}, want: []string{"Anna", "cecilia"}},
		{name: "search", q: ListQuery{Search: "ERT"}, want: []string{"bertil"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortFilter(rows, rowColumns, tt.q)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d rows, got %d", len(tt.want), len(got))
			}
			for i, r := range got {
				if r.name != tt.want[i] {
					t.Fatalf("row %d: expected %q, got %q", i, tt.want[i], r.name)
				}
			}
		})
	}
}

func TestSortFilterRejectsUnknownColumns(t *testing.T) {
	if _, err := SortFilter([]row{{"a", 1}}, rowColumns, ListQuery{SortBy: "size"}); err == nil {
		t.Fatal("expected error for unknown sort column")
	}
	if _, err := SortFilter([]row{{"a", 1}}, rowColumns, ListQuery{Filters: map[string]string{"size": "1"}}); err == nil {
		t.Fatal("expected error for unknown filter column")
	}
}
