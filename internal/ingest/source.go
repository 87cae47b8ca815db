package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrSourceMissing indicates a source has nothing for the requested kind.
var ErrSourceMissing = errors.New("ingest: source missing")

// Source supplies raw rows per entity kind.
type Source interface {
	Rows(ctx context.Context, kind EntityKind) ([]Row, error)
}

// DirSource reads one CSV file per kind from a directory, named after the
// kind ("drugs.csv", "sales.csv", ...) unless overridden in Files.
type DirSource struct {
	Dir   string
	Files map[EntityKind]string
}

// NewDirSource builds a DirSource with the default file names.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

func (s *DirSource) path(kind EntityKind) string {
	if name, ok := s.Files[kind]; ok {
		return filepath.Join(s.Dir, name)
	}
	return filepath.Join(s.Dir, string(kind)+".csv")
}

// Rows reads the CSV file for kind. A missing file yields ErrSourceMissing.
func (s *DirSource) Rows(ctx context.Context, kind EntityKind) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", kind, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// StaticSource serves rows held in memory.
type StaticSource map[EntityKind][]Row

// Rows implements Source.
func (s StaticSource) Rows(_ context.Context, kind EntityKind) ([]Row, error) {
	rows, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, kind)
	}
	return rows, nil
}

// ReadCSV parses a CSV document whose first record is the header. Short
// records are padded with empty values and blank lines are skipped.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv: %w", err)
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
