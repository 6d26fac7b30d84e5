// Package aggregate computes the counts and percentages shown on the
// field dashboards from collections of records. Every function is pure.
package aggregate

import (
	"sort"
)

// AllWards is the ward sentinel that disables ward filtering.
const AllWards = "All"

// Options controls an aggregation over records of type T.
type Options[T any] struct {
	// Ward keeps only records whose WardOf equals it. Empty or AllWards means no filter.
	Ward   string
	WardOf func(T) string

	// CategoriesOf returns the categories a record belongs to. A record may
	// carry several (typology) or exactly one (risk level).
	CategoriesOf func(T) []string

	// Category, when set, restricts Filtered to records carrying it.
	Category string
}

// Result is the output of Aggregate.
type Result[T any] struct {
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"byCategory"`
	Percentages map[string]int `json:"percentages"`
	Filtered    []T            `json:"filtered"`
}

// Aggregate counts records per category after applying the ward filter.
// Percentages are rounded independently per category, so they sum to 100
// only within ± the number of categories.
func Aggregate[T any](records []T, opts Options[T]) Result[T] {
	res := Result[T]{
		ByCategory:  make(map[string]int),
		Percentages: make(map[string]int),
		Filtered:    make([]T, 0),
	}

	filterWard := opts.Ward != "" && opts.Ward != AllWards && opts.WardOf != nil

	for i := range records {
		rec := records[i]
		if filterWard && opts.WardOf(rec) != opts.Ward {
			continue
		}
		res.Total++

		var cats []string
		if opts.CategoriesOf != nil {
			cats = opts.CategoriesOf(rec)
		}
		matched := opts.Category == ""
		for _, c := range dedupe(cats) {
			res.ByCategory[c]++
			if c == opts.Category {
				matched = true
			}
		}
		if matched {
			res.Filtered = append(res.Filtered, rec)
		}
	}

	for c, n := range res.ByCategory {
		res.Percentages[c] = Percent(n, res.Total)
	}
	return res
}

// Percent returns count/total*100 rounded half up; 0 when total is 0.
func Percent(count, total int) int {
	if total <= 0 || count <= 0 {
		return 0
	}
	// Integer form of floor(count*100/total + 0.5).
	return (count*200 + total) / (2 * total)
}

// CountBy groups records by a single key.
func CountBy[T any](records []T, key func(T) string) map[string]int {
	out := make(map[string]int)
	for i := range records {
		out[key(records[i])]++
	}
	return out
}

// SumBy adds up an integer quantity across records.
func SumBy[T any](records []T, value func(T) int) int {
	total := 0
	for i := range records {
		total += value(records[i])
	}
	return total
}

// Filter returns the records for which keep is true, in input order.
func Filter[T any](records []T, keep func(T) bool) []T {
	out := make([]T, 0, len(records))
	for i := range records {
		if keep(records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

// Wards returns the distinct non-empty wards, sorted.
func Wards[T any](records []T, wardOf func(T) string) []string {
	seen := make(map[string]bool)
	for i := range records {
		if w := wardOf(records[i]); w != "" {
			seen[w] = true
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func dedupe(cats []string) []string {
	if len(cats) < 2 {
		return cats
	}
	seen := make(map[string]bool, len(cats))
	out := cats[:0:0]
	for _, c := range cats {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
