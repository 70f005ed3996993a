package schema

import (
	"regexp"
	"strings"
)

// Family identifies the column-naming convention of a dataset.
type Family string

const (
	// FamilyStoreD marks fine-grained frequency schemas (freq_<float> columns
	// with two or more fractional digits, typically hundreds of them).
	FamilyStoreD Family = "store_d"
	// FamilyGeneric marks coarse index schemas (f_<int> columns). Unknown
	// shapes also resolve to generic as the safe default.
	FamilyGeneric Family = "generic"
)

var (
	freqPattern = regexp.MustCompile(`freq_\d+\.\d{2,}`)
	fPattern    = regexp.MustCompile(`\bf_\d+\b`)
)

// Detection reports how a header was classified.
type Detection struct {
	Family Family
	// FreqMatches and IndexMatches are the raw pattern counts that drove the
	// decision, kept for diagnostics.
	FreqMatches  int
	IndexMatches int
	// Defaulted is true when neither pattern was decisive and the generic
	// family was chosen as a fallback.
	Defaulted bool
}

// DetectFamily classifies a header by its column-naming convention.
// Classification never fails; an unrecognized shape defaults to generic.
func DetectFamily(header []string) Detection {
	joined := strings.ToLower(strings.Join(header, ","))

	d := Detection{
		FreqMatches:  len(freqPattern.FindAllString(joined, -1)),
		IndexMatches: len(fPattern.FindAllString(joined, -1)),
	}

	switch {
	case d.FreqMatches > d.IndexMatches && d.FreqMatches > 50:
		d.Family = FamilyStoreD
	case d.IndexMatches > 10:
		d.Family = FamilyGeneric
	default:
		d.Family = FamilyGeneric
		d.Defaulted = true
	}
	return d
}
