// Package dataset loads labeled training tables from CSV, TSV, and XLSX files.
package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupported is returned for file extensions with no loader.
var ErrUnsupported = errors.New("unsupported dataset format")

// Dataset is a table of (text, label) pairs. Labels are kept as written; the
// class scheme decides whether they are valid.
type Dataset struct {
	Source string
	Texts  []string
	Labels []string
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Texts) }

var (
	textHeaders  = []string{"text", "content", "متن"}
	labelHeaders = []string{"label", "sentiment", "برچسب"}
)

// Extensions lists the file extensions Load understands.
func Extensions() []string { return []string{".csv", ".tsv", ".xlsx"} }

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions() {
		if e == ext {
			return true
		}
	}
	return false
}

// Load reads the dataset at path, choosing the format from its extension.
func Load(path string) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	d, err := Parse(content, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	d.Source = path
	return d, nil
}

// Parse decodes content for the given extension (with leading dot).
func Parse(content []byte, ext string) (*Dataset, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext {
	case ".csv":
		rows, err = readDelimited(content, ',')
	case ".tsv":
		rows, err = readDelimited(content, '\t')
	case ".xlsx":
		rows, err = readExcel(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func readDelimited(content []byte, comma rune) ([][]string, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "\ufffd"))
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = comma == '\t'
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse rows: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// readExcel reads the first sheet that has any rows.
func readExcel(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return nil, nil
}

// fromRows picks the text and label columns. A first row naming a known text
// column is a header; without one, column 0 is the text and column 1 the label.
func fromRows(rows [][]string) (*Dataset, error) {
	textCol, labelCol := 0, 1
	start := 0
	if len(rows) > 0 {
		if t, l, ok := headerColumns(rows[0]); ok {
			textCol, labelCol, start = t, l, 1
		}
	}

	d := &Dataset{}
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		line := i + 1
		if textCol >= len(row) || labelCol >= len(row) {
			return nil, fmt.Errorf("row %d: expected text and label columns", line)
		}
		text := strings.TrimSpace(row[textCol])
		label := strings.TrimSpace(row[labelCol])
		if text == "" || label == "" {
			return nil, fmt.Errorf("row %d: text and label must not be empty", line)
		}
		d.Texts = append(d.Texts, text)
		d.Labels = append(d.Labels, label)
	}
	if d.Len() == 0 {
		return nil, fmt.Errorf("dataset has no examples")
	}
	return d, nil
}

func headerColumns(row []string) (textCol, labelCol int, ok bool) {
	textCol, labelCol = -1, -1
	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case textCol < 0 && contains(textHeaders, name):
			textCol = i
		case labelCol < 0 && contains(labelHeaders, name):
			labelCol = i
		}
	}
	if textCol < 0 {
		return 0, 0, false
	}
	if labelCol < 0 {
		labelCol = 1
		if textCol == 1 {
			labelCol = 0
		}
	}
	return textCol, labelCol, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Fingerprint returns a stable id for the examples in d. Tables with the same
// rows in the same order share a fingerprint whatever their file format.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	for i := range d.Texts {
		h.Write([]byte(d.Texts[i]))
		h.Write([]byte{0})
		h.Write([]byte(d.Labels[i]))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
