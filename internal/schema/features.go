package schema

import (
	"strconv"
	"strings"
)

// Limits optionally narrows the selected feature set. At most one ceiling may
// be active; config validation enforces the exclusivity.
type Limits struct {
	// MaxFrequency keeps only freq_ columns whose parsed frequency value is
	// at or below the ceiling. f_ columns pass through unconditionally.
	MaxFrequency *float64
	// MaxIndex keeps only f_ columns whose integer suffix is at or below the
	// ceiling. freq_ columns pass through unconditionally.
	MaxIndex *int
}

// Selection is an ordered feature column set plus filter diagnostics.
type Selection struct {
	Columns []string
	// Matched counts columns that satisfied the feature predicate before any
	// ceiling was applied.
	Matched int
}

// IsFeatureColumn reports whether a column name holds a numeric feature
// value. The predicate is case-insensitive and whitespace-tolerant.
func IsFeatureColumn(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.HasPrefix(n, "f_") || strings.HasPrefix(n, "freq_")
}

// SelectFeatures extracts the ordered feature column set from a header,
// optionally narrowed by a ceiling. Original order and case are preserved.
// Columns whose numeric suffix cannot be parsed are never dropped by a
// ceiling.
func SelectFeatures(header []string, limits Limits) Selection {
	var sel Selection
	for _, col := range header {
		if !IsFeatureColumn(col) {
			continue
		}
		sel.Matched++
		if keepFeature(col, limits) {
			sel.Columns = append(sel.Columns, col)
		}
	}
	return sel
}

func keepFeature(col string, limits Limits) bool {
	name := strings.ToLower(strings.TrimSpace(col))

	if limits.MaxFrequency != nil && strings.HasPrefix(name, "freq_") {
		v, err := strconv.ParseFloat(strings.TrimPrefix(name, "freq_"), 64)
		if err != nil {
			return true
		}
		return v <= *limits.MaxFrequency
	}

	if limits.MaxIndex != nil && strings.HasPrefix(name, "f_") {
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "f_"))
		if err != nil {
			return true
		}
		return idx <= *limits.MaxIndex
	}

	return true
}
