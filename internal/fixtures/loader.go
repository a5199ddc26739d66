// Package fixtures seeds a store from YAML documents or XLSX workbooks.
//
// A YAML fixture maps entity type names to lists of records:
//
//	organisationUnit:
//	  - id: L1
//	    name: Country
//	  - id: L2
//	    name: Region
//	    parent: L1
//
// An XLSX fixture holds one sheet per entity type, named after the type, with
// property names in the first row.
package fixtures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported fixture format")

// Summary counts stored records per entity type.
type Summary map[string]int

// Total returns the number of records stored.
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Loader stores fixture records through a writer, validating type names
// against a registry.
type Loader struct {
	registry *registry.Registry
	writer   repository.EntityWriter
}

func NewLoader(reg *registry.Registry, w repository.EntityWriter) *Loader {
	return &Loader{registry: reg, writer: w}
}

// LoadFile picks the format from the file extension.
func (l *Loader) LoadFile(ctx context.Context, path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(ctx, bytes.NewReader(data))
	case ".xlsx":
		return l.LoadXLSX(ctx, bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

// LoadYAML stores the records of a YAML fixture. Types are stored in the
// order the document lists them.
func (l *Loader) LoadYAML(ctx context.Context, r io.Reader) (Summary, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Summary{}, nil
		}
		return nil, fmt.Errorf("failed to parse yaml fixture: %w", err)
	}
	if len(doc.Content) == 0 {
		return Summary{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("yaml fixture line %d: expected a mapping of entity types", root.Line)
	}

	summary := Summary{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		typeName := root.Content[i].Value
		var rows []map[string]any
		if err := root.Content[i+1].Decode(&rows); err != nil {
			return nil, fmt.Errorf("yaml fixture line %d: %s must be a list of records: %w", root.Content[i].Line, typeName, err)
		}
		n, err := l.store(ctx, typeName, rows)
		if err != nil {
			return nil, err
		}
		summary[typeName] += n
	}
	return summary, nil
}

// LoadXLSX stores the rows of every sheet named after a registered type.
// Other sheets are ignored.
func (l *Loader) LoadXLSX(ctx context.Context, r io.Reader) (Summary, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx fixture: %w", err)
	}
	defer func() { _ = f.Close() }()

	summary := Summary{}
	for _, sheet := range f.GetSheetList() {
		if _, err := l.registry.Describe(sheet); err != nil {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheet, err)
		}
		n, err := l.store(ctx, sheet, normalizeSheet(rows))
		if err != nil {
			return nil, err
		}
		summary[sheet] += n
	}
	return summary, nil
}

// normalizeSheet turns a header row plus data rows into records. Blank cells
// are left out.
func normalizeSheet(rows [][]string) []map[string]any {
	if len(rows) == 0 {
		return nil
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	var out []map[string]any
	for _, row := range rows[1:] {
		values := make(map[string]any)
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" || strings.TrimSpace(cell) == "" {
				continue
			}
			values[headers[i]] = strings.TrimSpace(cell)
		}
		if len(values) > 0 {
			out = append(out, values)
		}
	}
	return out
}

func (l *Loader) store(ctx context.Context, typeName string, rows []map[string]any) (int, error) {
	t, err := l.registry.Describe(typeName)
	if err != nil {
		return 0, err
	}
	records := make([]domain.Record, 0, len(rows))
	for i, values := range rows {
		id, ok := values[registry.IDProperty]
		if !ok || fmt.Sprint(id) == "" {
			return 0, fmt.Errorf("%s record %d has no id", typeName, i+1)
		}
		rec := domain.NewRecord(t.Name, fmt.Sprint(id))
		for k, v := range values {
			if k != registry.IDProperty {
				rec.Values[k] = v
			}
		}
		records = append(records, rec)
	}
	if t.IsHierarchical() {
		records = parentsFirst(t, records)
	}
	for _, rec := range records {
		if err := l.writer.Put(ctx, rec); err != nil {
			return 0, fmt.Errorf("failed to store %s %s: %w", typeName, rec.ID, err)
		}
	}
	return len(records), nil
}

// parentsFirst reorders nodes so every parent listed in the batch is stored
// before its children, which lets the store derive levels and paths. Nodes on
// a parent cycle keep their relative order at the end.
func parentsFirst(t *registry.EntityType, records []domain.Record) []domain.Record {
	inBatch := make(map[string]struct{}, len(records))
	for _, rec := range records {
		inBatch[rec.ID] = struct{}{}
	}
	placed := make(map[string]struct{}, len(records))
	out := make([]domain.Record, 0, len(records))
	pending := records
	for len(pending) > 0 {
		var next []domain.Record
		for _, rec := range pending {
			parent := t.Parent(rec)
			_, listed := inBatch[parent]
			_, done := placed[parent]
			if parent == "" || !listed || done {
				out = append(out, rec)
				placed[rec.ID] = struct{}{}
			} else {
				next = append(next, rec)
			}
		}
		if len(next) == len(pending) {
			return append(out, next...)
		}
		pending = next
	}
	return out
}
