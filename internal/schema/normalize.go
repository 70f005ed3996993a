package schema

import (
	"fmt"
	"strings"
)

// Mapping is the order-preserving original → normalized header mapping.
//
// Original and Normalized always have equal length; ByOriginal resolves a
// raw header name to its normalized form.
type Mapping struct {
	Original   []string
	Normalized []string
	ByOriginal map[string]string
}

// NormalizeHeader cleans each column name: a single leading byte-order mark
// is removed and surrounding whitespace is trimmed. Case and content are
// otherwise preserved exactly, because the backend matches columns
// case-sensitively between baseline and monitor files.
//
// Two distinct original names collapsing to the same normalized name is an
// unrepairable schema defect and returns an error.
func NormalizeHeader(header []string) (Mapping, error) {
	m := Mapping{
		Original:   make([]string, len(header)),
		Normalized: make([]string, 0, len(header)),
		ByOriginal: make(map[string]string, len(header)),
	}
	copy(m.Original, header)

	seen := make(map[string]string, len(header))
	for _, col := range header {
		clean := CleanName(col)
		if prev, ok := seen[clean]; ok && prev != col {
			return Mapping{}, fmt.Errorf("columns %q and %q normalize to the same name %q", prev, col, clean)
		}
		seen[clean] = col
		m.Normalized = append(m.Normalized, clean)
		m.ByOriginal[col] = clean
	}
	return m, nil
}

// CleanName strips one leading BOM and surrounding whitespace from a single
// column name.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "\uFEFF")
	return strings.TrimSpace(name)
}
