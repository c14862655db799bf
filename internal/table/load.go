package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Format identifies a supported input encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var (
	// ErrUnsupportedFormat is returned before any parsing when the input is
	// neither CSV nor JSON records.
	ErrUnsupportedFormat = errors.New("unsupported file type, upload CSV or JSON")
	// ErrMalformed wraps structural problems in an otherwise supported file.
	ErrMalformed = errors.New("malformed input")
)

// missing markers treated as an absent value in CSV input
var naValues = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "<NA>": {}, "#N/A": {},
}

// FormatFromPath maps a file extension to a Format.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// FormatFromContentType maps a MIME type to a Format.
func FormatFromContentType(contentType string) (Format, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
	switch mt {
	case "text/csv", "application/csv":
		return FormatCSV, nil
	case "application/json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mt)
	}
}

// Load reads a CSV or JSON file into a Table, choosing the parser by extension.
func Load(path string) (*Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()
	return Read(f, format)
}

// Read parses r according to format.
func Read(r io.Reader, format Format) (*Table, error) {
	switch format {
	case FormatCSV:
		return readCSV(r)
	case FormatJSON:
		return readJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func readCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv header row is required", ErrMalformed)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := New(header...)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrMalformed, line, len(record), len(header))
		}
		row := make([]any, len(header))
		for i, raw := range record {
			row[i] = parseCSVCell(raw)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseCSVCell(raw string) any {
	s := strings.TrimSpace(raw)
	if _, ok := naValues[s]; ok {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

// readJSON accepts an array of objects. Column order follows the first
// appearance of each key, records missing a key read as nil.
func readJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("%w: json input must be an array of records", ErrMalformed)
	}

	t := New()
	index := make(map[string]int)
	var records []map[int]any

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read json record %d: %w", len(records), err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrMalformed, len(records))
		}
		rec := make(map[int]any)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read json record %d: %w", len(records), err)
			}
			key, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("read json record %d field %q: %w", len(records), key, err)
			}
			col, ok := index[key]
			if !ok {
				col = len(t.Columns)
				index[key] = col
				t.Columns = append(t.Columns, key)
			}
			rec[col] = jsonCell(raw)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read json record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}

	for _, rec := range records {
		row := make([]any, len(t.Columns))
		for col, v := range rec {
			row[col] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func jsonCell(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string, bool:
		return x
	default:
		// nested objects and arrays are kept verbatim; alignment treats them as non-numeric
		return string(raw)
	}
}
