// Package table loads a monitor CSV into an ordered in-memory row sequence
// and slices it into transmission-ready batches.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/dinsight-analytics/stream-replay/internal/schema"
)

// Row is one loaded data point. Cells are keyed by normalized header name;
// Index is the zero-based position in the source file and the sole ordering
// key. Rows are never mutated after load.
type Row struct {
	Index int
	Cells map[string]string
}

// Table is the fully loaded monitor dataset plus its header artifacts.
type Table struct {
	Path string

	Detection        schema.Detection
	OriginalHeader   []string
	NormalizedHeader []string
	// ByOriginal maps each original column name to its normalized form.
	ByOriginal map[string]string

	// Features is the ordered feature column set (original names), after any
	// configured ceiling was applied.
	Features []string
	// FeatureColumns counts every column matching the feature predicate,
	// before any ceiling. Raw rows carry all of them, so load-time validation
	// checks against this count rather than the narrowed set.
	FeatureColumns int

	Rows []Row
}

// sampleRows is how many leading rows are validated at load time. A fixed
// small sample catches systematically malformed files without paying a full
// parse of every cell on very wide tables.
const sampleRows = 3

// Load reads the monitor table once, classifies and normalizes its header,
// extracts the feature column set, and materializes all rows in source order.
//
// The first sampleRows rows are validated against the expected feature-vector
// length; a failure there aborts the load with the 1-based row index. A cell
// missing from a short record is an empty string, never an error.
func Load(path string, limits schema.Limits) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open monitor file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	t, err := read(f, limits)
	if err != nil {
		return nil, err
	}
	t.Path = path
	return t, nil
}

func read(r io.Reader, limits schema.Limits) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF || (err == nil && len(header) == 0) {
		return nil, fmt.Errorf("monitor file has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	mapping, err := schema.NormalizeHeader(header)
	if err != nil {
		return nil, fmt.Errorf("normalize header: %w", err)
	}

	sel := schema.SelectFeatures(header, limits)
	t := &Table{
		Detection:        schema.DetectFamily(header),
		OriginalHeader:   mapping.Original,
		NormalizedHeader: mapping.Normalized,
		ByOriginal:       mapping.ByOriginal,
		Features:         sel.Columns,
		FeatureColumns:   sel.Matched,
	}

	for idx := 0; ; idx++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", idx+1, err)
		}

		raw := make(map[string]string, len(header))
		cells := make(map[string]string, len(header))
		for i, orig := range t.OriginalHeader {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			raw[orig] = v
			cells[t.NormalizedHeader[i]] = v
		}

		if idx < sampleRows {
			// Validate against the raw original-keyed row so the feature
			// predicate sees the same names the selector saw.
			if err := ValidateVector(raw, t.FeatureColumns); err != nil {
				return nil, fmt.Errorf("row %d failed validation: %w", idx+1, err)
			}
		}

		t.Rows = append(t.Rows, Row{Index: idx, Cells: cells})
	}

	return t, nil
}
