package csvexport

import (
	"bytes"
	"encoding/csv"
	"io"

	"medcoder/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the CSV header row.
var columns = []string{
	"Code",
	"Description",
}

// Writer wraps csv.Writer for exporting extracted codes as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteCodes writes one row per extracted code, in extraction order.
func (w *Writer) WriteCodes(codes []domain.DiagnosisCode) error {
	for _, c := range codes {
		if err := w.csv.Write([]string{c.Code, c.Description}); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// DiagnosisCodes renders a full CSV file, BOM included, for the given codes.
func DiagnosisCodes(codes []domain.DiagnosisCode) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(BOM)

	w := NewWriter(&buf)
	if err := w.WriteHeader(); err != nil {
		return nil, err
	}
	if err := w.WriteCodes(codes); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
