package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/dinsight-analytics/stream-replay/internal/schema"
)

// Batch is one contiguous, order-preserving slice of the row sequence.
// Num is 1-based for operator-facing logs.
type Batch struct {
	Num   int
	Total int
	Rows  []Row
}

// Windower slices a row sequence into fixed-size batches. Batches never
// overlap and, concatenated in order, cover the full sequence exactly once.
type Windower struct {
	rows []Row
	size int
}

// NewWindower returns a windower over rows with the given batch size.
func NewWindower(rows []Row, size int) (*Windower, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", size)
	}
	return &Windower{rows: rows, size: size}, nil
}

// Count returns the total number of batches: ceil(len(rows)/size).
func (w *Windower) Count() int {
	return (len(w.rows) + w.size - 1) / w.size
}

// Batch returns the k-th (zero-based) batch. It covers source indices
// [k*size, min((k+1)*size, N)). The delivery loop calls this lazily so a
// batch is never constructed before its predecessor has resolved.
func (w *Windower) Batch(k int) Batch {
	lo := k * w.size
	hi := lo + w.size
	if hi > len(w.rows) {
		hi = len(w.rows)
	}
	return Batch{
		Num:   k + 1,
		Total: w.Count(),
		Rows:  w.rows[lo:hi],
	}
}

// Render re-serializes a batch into a self-contained CSV table.
//
// In metadata-inclusive mode the header carries every metadata column plus
// the session's feature columns in original order, and each cell is resolved
// through the original→normalized map; otherwise only the feature column set
// is emitted. With no ceiling configured the metadata-inclusive header is the
// full original header. Feature cells are re-parsed and re-formatted with the
// compact general float format so the backend receives canonical numerics. A
// feature cell that does not parse as a number fails the render: a corrupt
// vector must never reach the wire.
func (t *Table) Render(b Batch, includeMetadata bool) ([]byte, error) {
	header := t.Features
	if includeMetadata {
		header = t.transmissionHeader()
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, err
	}

	rec := make([]string, len(header))
	for _, row := range b.Rows {
		for i, col := range header {
			key, ok := t.ByOriginal[col]
			if !ok {
				key = col
			}
			raw := row.Cells[key]

			if !schema.IsFeatureColumn(col) {
				rec[i] = raw
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("batch %d: row %d has unparsable feature %s=%q", b.Num, row.Index, col, raw)
			}
			rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return nil, err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// transmissionHeader is the original header with feature columns narrowed to
// the selected set. Feature columns a ceiling filtered out must not be
// transmitted, or the delivered vector would no longer match the baseline
// dimension.
func (t *Table) transmissionHeader() []string {
	if len(t.Features) == t.FeatureColumns {
		return t.OriginalHeader
	}
	keep := make(map[string]struct{}, len(t.Features))
	for _, f := range t.Features {
		keep[f] = struct{}{}
	}
	out := make([]string, 0, len(t.OriginalHeader))
	for _, col := range t.OriginalHeader {
		if schema.IsFeatureColumn(col) {
			if _, ok := keep[col]; !ok {
				continue
			}
		}
		out = append(out, col)
	}
	return out
}

// Preflight guards an outgoing transmission table before any network call.
//
// It recomputes the feature count actually present in the table's header,
// intersected with the session's feature column set when one is given, and
// validates the first row's vector against that count.
func Preflight(csvData []byte, features []string) error {
	cr := csv.NewReader(bytes.NewReader(csvData))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read batch header: %w", err)
	}

	expected := 0
	if len(features) > 0 {
		want := make(map[string]struct{}, len(features))
		for _, f := range features {
			want[f] = struct{}{}
		}
		for _, col := range header {
			if _, ok := want[col]; ok {
				expected++
			}
		}
	} else {
		for _, col := range header {
			if schema.IsFeatureColumn(col) {
				expected++
			}
		}
	}

	rec, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("batch table has no data rows")
	}
	if err != nil {
		return fmt.Errorf("read batch first row: %w", err)
	}

	cells := make(map[string]string, len(header))
	for i, col := range header {
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		cells[col] = v
	}
	return ValidateVector(cells, expected)
}
