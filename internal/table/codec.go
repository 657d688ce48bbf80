package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/l0p7/netpharm/internal/fsutil"
)

// ReadRaw decodes delimited text with a header row. Every cell is kept as a
// string; comma selects the field separator (',' or '\t').
func ReadRaw(r io.Reader, comma rune) (Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if comma == '\t' {
		reader.Comment = '#'
	}
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{Columns: []string{}, Rows: []Row{}}, nil
		}
		return Table{}, fmt.Errorf("table: read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}
	out := Table{Columns: columns, Rows: []Row{}}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("table: read record: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Read decodes a CSV artifact written by Write into the schema. Blank cells
// become nil and numeric columns are parsed as float64 when possible.
func Read(r io.Reader, s Schema) (Table, error) {
	raw, err := ReadRaw(r, ',')
	if err != nil {
		return Table{}, err
	}
	for _, col := range s.Columns {
		if !raw.HasColumn(col) {
			return Table{}, fmt.Errorf("table: %s artifact missing column %q", s.Name, col)
		}
	}
	out := s.Empty()
	out.Rows = make([]Row, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		decoded := make(Row, len(s.Columns))
		for _, col := range s.Columns {
			cell, _ := row[col].(string)
			switch {
			case cell == "":
				decoded[col] = nil
			case s.IsNumeric(col):
				if f, err := strconv.ParseFloat(cell, 64); err == nil {
					decoded[col] = f
				} else {
					decoded[col] = cell
				}
			default:
				decoded[col] = cell
			}
		}
		out.Rows = append(out.Rows, decoded)
	}
	return out, nil
}

// Write encodes the table as CSV with a header row. Nil cells are written empty.
func Write(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("table: write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = String(row[col])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("table: write record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("table: flush: %w", err)
	}
	return nil
}

// ReadFile opens path and decodes it with Read.
func ReadFile(path string, s Schema) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("table: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, s)
}

// WriteFile writes the table to path atomically so readers never observe a
// partial artifact.
func WriteFile(path string, t Table) error {
	var buf bytes.Buffer
	if err := Write(&buf, t); err != nil {
		return err
	}
	if err := fsutil.WriteAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("table: write %s: %w", path, err)
	}
	return nil
}

// Encode serializes the table for cache storage.
func Encode(t Table) ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("table: encode: %w", err)
	}
	return payload, nil
}

// Decode restores a table produced by Encode and conforms it to the schema.
func Decode(payload []byte, s Schema) (Table, error) {
	var t Table
	if err := json.Unmarshal(payload, &t); err != nil {
		return Table{}, fmt.Errorf("table: decode: %w", err)
	}
	if t.Columns == nil {
		return Table{}, fmt.Errorf("table: decode: payload has no columns")
	}
	return s.Conform(t), nil
}
