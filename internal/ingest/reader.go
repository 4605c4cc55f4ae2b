package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Format is an input file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("ingest: unsupported input %q (want .csv, .xlsx or .json)", path)
	}
}

// ReadFile reads every row from path. Rows get 1-based row numbers and
// external ids resolved from map URLs.
func ReadFile(ctx context.Context, path string) ([]Row, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var rows []Row
	switch format {
	case FormatXLSX:
		rows, err = ReadXLSX(path, 0)
	default:
		f, openErr := os.Open(path) //nolint:gosec // operator-supplied input path
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		if format == FormatJSON {
			rows, err = ReadJSON(ctx, f)
		} else {
			delim := ','
			if strings.EqualFold(filepath.Ext(path), ".tsv") {
				delim = '\t'
			}
			rows, err = ReadCSV(ctx, f, delim)
		}
	}
	if err != nil {
		return nil, err
	}

	for i := range rows {
		rows[i].ResolveExternalID()
	}
	return rows, nil
}

// ReadCSV reads a headered CSV stream.
func ReadCSV(ctx context.Context, r io.Reader, delim rune) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var (
		header []string
		rows   []Row
	)
	for n := 0; ; n++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", n+1)
		}
		if header == nil {
			header = mapHeader(record)
			continue
		}
		if blank(record) {
			continue
		}
		rows = append(rows, rowFromCells(header, record, n))
	}
	if header == nil {
		return nil, eris.New("csv: missing header row")
	}
	return rows, nil
}

// ReadXLSX reads the given sheet of an XLSX workbook. The first row is the
// header.
func ReadXLSX(path string, sheetIndex int) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if sheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", sheetIndex, len(f.Sheets))
	}
	sheet := f.Sheets[sheetIndex]

	var (
		header []string
		rows   []Row
	)
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if header == nil {
			header = mapHeader(cells)
			continue
		}
		if blank(cells) {
			continue
		}
		rows = append(rows, rowFromCells(header, cells, i))
	}
	if header == nil {
		return nil, eris.New("xlsx: missing header row")
	}
	return rows, nil
}

// ReadJSON decodes a JSON array of rows, streaming element by element.
func ReadJSON(ctx context.Context, r io.Reader) ([]Row, error) {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	var rows []Row
	for decoder.More() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		var row Row
		if err := decoder.Decode(&row); err != nil {
			return nil, eris.Wrapf(err, "json: decode element %d", len(rows)+1)
		}
		row.RowNumber = len(rows) + 1
		rows = append(rows, row)
	}
	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return rows, nil
}

func mapHeader(cells []string) []string {
	header := make([]string, len(cells))
	for i, c := range cells {
		header[i] = canonicalHeader(c)
	}
	return header
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
