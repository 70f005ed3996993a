package table

import (
	"fmt"
	"strconv"

	"github.com/dinsight-analytics/stream-replay/internal/schema"
)

// ValidateVector checks that a row carries a well-formed feature vector of
// the expected length. Every cell whose key matches the feature predicate
// must parse as a floating-point number; the first non-numeric value fails
// the row with the offending key and value named. After parsing, the count
// of feature values must equal expected.
//
// The check is a pure function of its inputs: validating the same row twice
// always yields the same result.
func ValidateVector(cells map[string]string, expected int) error {
	parsed := 0
	for key, value := range cells {
		if !schema.IsFeatureColumn(key) {
			continue
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("invalid feature value %s=%q", key, value)
		}
		parsed++
	}
	if parsed != expected {
		return fmt.Errorf("vector length mismatch: expected=%d actual=%d", expected, parsed)
	}
	return nil
}
