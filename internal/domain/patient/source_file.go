package patient

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OpenSource opens a dataset file, picking the reader by extension.
// CSV carries a header row; JSON is a single array of objects; JSONL holds
// one object per line.
func OpenSource(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return openCSV(path)
	case ".json":
		return openJSON(path)
	case ".jsonl", ".ndjson":
		return openJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
}

// -- CSV --

type csvSource struct {
	f       *os.File
	r       *csv.Reader
	columns []string
	line    int
}

func openCSV(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	r := csv.NewReader(f)
	// Ragged rows are tolerated here; normalization reports what is missing.
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &csvSource{f: f, r: r, line: 1}, nil
		}
		f.Close()
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &csvSource{f: f, r: r, columns: header, line: 1}, nil
}

func (s *csvSource) Columns() []string { return s.columns }

// Next returns the following data row. Line numbers count from the top of
// the file, so the first data row is line 2.
func (s *csvSource) Next() (*Row, error) {
	if s.columns == nil {
		return nil, io.EOF
	}
	rec, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read dataset row: %w", err)
	}
	s.line++
	fields := make(map[string]string, len(s.columns))
	for i, col := range s.columns {
		if i < len(rec) {
			fields[col] = rec[i]
		}
	}
	return &Row{Line: s.line, Fields: fields}, nil
}

func (s *csvSource) Close() error { return s.f.Close() }

// -- JSON --

func openJSON(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	rows := make([]Row, 0, len(objects))
	for i, obj := range objects {
		rows = append(rows, Row{Line: i + 1, Fields: stringFields(obj)})
	}
	return &sliceSource{rows: rows}, nil
}

type sliceSource struct {
	rows []Row
	idx  int
}

func (s *sliceSource) Next() (*Row, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := &s.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *sliceSource) Columns() []string { return nil }
func (s *sliceSource) Close() error      { return nil }

// -- JSONL --

type jsonlSource struct {
	f    *os.File
	sc   *bufio.Scanner
	line int
}

func openJSONL(path string) (*jsonlSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &jsonlSource{f: f, sc: sc}, nil
}

func (s *jsonlSource) Next() (*Row, error) {
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("decode dataset line %d: %w", s.line, err)
		}
		return &Row{Line: s.line, Fields: stringFields(obj)}, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return nil, io.EOF
}

func (s *jsonlSource) Columns() []string { return nil }
func (s *jsonlSource) Close() error      { return s.f.Close() }

// stringFields flattens scalar JSON values to the string form the
// normalizer expects. Nested objects and arrays have no column equivalent
// and are dropped.
func stringFields(obj map[string]any) map[string]string {
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case json.Number:
			fields[k] = t.String()
		case bool:
			fields[k] = strconv.FormatBool(t)
		}
	}
	return fields
}
