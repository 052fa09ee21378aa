package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrUnparseable means the file is neither CSV with a header row nor JSON.
var ErrUnparseable = errors.New("import file could not be parsed")

// Row is one data row. Err is set when the row itself is broken; the rest
// of the file is still imported.
type Row struct {
	Record map[string]any
	Err    error
}

type format int

const (
	formatCSV format = iota
	formatJSON
	formatNDJSON
)

// Parse splits data into rows. The format comes from the content type, then
// the URL extension, then the first non-blank byte.
func Parse(data []byte, contentType, fileURL string) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	switch detect(data, contentType, fileURL) {
	case formatJSON:
		rows, err := parseJSON(data)
		if err == nil {
			return rows, nil
		}
		// a JSON content type is often served for NDJSON
		if nd, ndErr := parseNDJSON(data); ndErr == nil {
			return nd, nil
		}
		return nil, err
	case formatNDJSON:
		return parseNDJSON(data)
	default:
		return parseCSV(data)
	}
}

func detect(data []byte, contentType, fileURL string) format {
	switch {
	case strings.Contains(contentType, "ndjson"), strings.Contains(contentType, "jsonl"):
		return formatNDJSON
	case strings.Contains(contentType, "json"):
		return formatJSON
	case strings.Contains(contentType, "csv"):
		return formatCSV
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(fileURL, "?", 2)[0]))
	switch ext {
	case ".ndjson", ".jsonl":
		return formatNDJSON
	case ".json":
		return formatJSON
	case ".csv":
		return formatCSV
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			return formatJSON
		case '{':
			return formatNDJSON
		}
	}
	return formatCSV
}

func parseJSON(data []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []json.RawMessage
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	rows := make([]Row, len(items))
	for i, raw := range items {
		rows[i] = decodeObject(raw)
	}
	return rows, nil
}

func parseNDJSON(data []byte) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	parsed := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		row := decodeObject(append([]byte(nil), line...))
		if row.Err == nil {
			parsed++
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(rows) > 0 && parsed == 0 {
		return nil, fmt.Errorf("%w: no line is a JSON object", ErrUnparseable)
	}
	return rows, nil
}

func decodeObject(raw []byte) Row {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return Row{Err: errors.New("row is not a JSON object")}
	}
	return Row{Record: rec}
}

func parseCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrUnparseable, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !usableHeader(header) {
		return nil, fmt.Errorf("%w: missing header row", ErrUnparseable)
	}

	var rows []Row
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rows = append(rows, Row{Err: fmt.Errorf("line %d: %v", pe.Line, pe.Err)})
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		if len(fields) != len(header) {
			rows = append(rows, Row{Err: fmt.Errorf("expected %d columns, got %d", len(header), len(fields))})
			continue
		}
		rec := make(map[string]any, len(header))
		for i, name := range header {
			if v := strings.TrimSpace(fields[i]); v != "" && name != "" {
				rec[name] = v
			}
		}
		rows = append(rows, Row{Record: rec})
	}
	return rows, nil
}

// usableHeader rejects a first row that is obviously data, such as one
// holding an email address.
func usableHeader(header []string) bool {
	named := 0
	for _, h := range header {
		if strings.Contains(h, "@") {
			return false
		}
		if h != "" {
			named++
		}
	}
	return named > 0
}
