package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedRow is returned when a row has more fields than the header and
// no [BadLineFunc] repaired it.
var ErrMalformedRow = errors.New("malformed row")

// BadLineFunc is offered every row that has more fields than the header.
// It returns the repaired fields and true, or false to reject the row.
type BadLineFunc func(fields []string) ([]string, bool)

// ReadOptions configures [ReadCSV].
type ReadOptions struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// BadLine, if set, may repair rows that are too wide.
	BadLine BadLineFunc
}

// ReadCSV parses delimited text with a header row.
//
// Header names and cells are trimmed of surrounding whitespace. Rows shorter
// than the header are padded with empty cells. Rows wider than the header are
// passed to opts.BadLine; if it is nil or declines, ReadCSV fails with
// [ErrMalformedRow].
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return New(nil, nil)
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows [][]string

	for {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("read row: %w", readErr)
		}

		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)

			repaired, ok := repair(opts.BadLine, record)
			if !ok || len(repaired) > len(header) {
				return nil, fmt.Errorf("%w at line %d: expected %d fields, saw %d",
					ErrMalformedRow, line, len(header), len(record))
			}

			record = repaired
		}

		row := make([]string, len(header))
		for i, cell := range record {
			row[i] = strings.TrimSpace(cell)
		}

		rows = append(rows, row)
	}

	return New(header, rows)
}

func repair(fn BadLineFunc, record []string) ([]string, bool) {
	if fn == nil {
		return nil, false
	}

	return fn(record)
}

// WriteTSV writes t as tab-separated text with a header row and no index column.
func WriteTSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	if err := writer.Write(t.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := writer.WriteAll(t.rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	return nil
}

// EncodeTSV returns t encoded by [WriteTSV].
func EncodeTSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer

	if err := WriteTSV(&buf, t); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
