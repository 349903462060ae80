// Package ingest reads order rows from delimited text exports.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/wudi/slipkit/order"
)

var ErrNoHeader = errors.New("ingest: missing header row")

// DecodeError reports input that could not be read as a CSV table.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ingest: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("ingest: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encoding resolves an input encoding name. The empty name is UTF-8. Common
// spellings of the Windows Japanese code page map to Shift_JIS.
func Encoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "sjis", "shift_jis", "shift-jis", "cp932", "windows-31j", "ms932":
		return japanese.ShiftJIS, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("ingest: unknown encoding %q", name)
	}
	return enc, nil
}

// ReadCSV decodes r with the named encoding and returns one Row per record,
// keyed by the header row. A leading UTF-8 byte order mark is dropped for
// every encoding. Records shorter than the header leave the remaining
// columns blank. Empty lines are skipped, but a record of empty cells such as
// ",," is a row, so the index of every row matches its record position.
func ReadCSV(r io.Reader, encodingName string) ([]order.Row, error) {
	enc, err := Encoding(encodingName)
	if err != nil {
		return nil, err
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, &DecodeError{Line: 1, Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []order.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &DecodeError{Line: line, Err: err}
		}
		row := make(order.Row, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

