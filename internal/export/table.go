// Package export renders projected rows as CSV or XLSX tables.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is a supported table format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a file extension to a format.
func ParseFormat(ext string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimPrefix(ext, "."))) {
	case FormatCSV:
		return FormatCSV, true
	case FormatXLSX:
		return FormatXLSX, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Table is a header row and the rows below it.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Write renders t in format f.
func Write(w io.Writer, f Format, t Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatXLSX:
		return WriteXLSX(w, t)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// WriteCSV renders t as CSV with a header row.
func WriteCSV(w io.Writer, t Table) error {
	buffered := bufio.NewWriterSize(w, 64<<10)
	csvWriter := csv.NewWriter(buffered)

	if err := csvWriter.Write(t.Headers); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(t.Headers))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatValue(row[i])
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return buffered.Flush()
}

// WriteXLSX renders t as a workbook with a single sheet named after the table.
func WriteXLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(t.Name)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}

	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	if err := stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for r, row := range t.Rows {
		cells := make([]any, len(t.Headers))
		for i := range cells {
			if i < len(row) {
				cells[i] = cellValue(row[i])
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("failed to address xlsx row %d: %w", r+2, err)
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write xlsx row %d: %w", r+2, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// cellValue keeps numbers and booleans native; everything else is rendered as
// text.
func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case int, int64, float64, bool:
		return v
	default:
		return FormatValue(v)
	}
}

// FormatValue renders a projected value as a single text cell.
func FormatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []string:
		return strings.Join(v, ",")
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FileName builds an attachment name for a table of entityType.
func FileName(entityType string, f Format) string {
	base := sanitizeFileComponent(entityType)
	return fmt.Sprintf("%s.%s", base, f)
}

func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "Sheet1"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
