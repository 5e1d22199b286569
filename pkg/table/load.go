package table

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LatestPatterns are the glob patterns searched for a previously written
// table, in priority order.
var LatestPatterns = []string{
	"energies_*.csv",
	"*energies*.csv",
	"*_energies_*.csv",
	"energies_*.xlsx",
}

// ErrEmptyTable is returned when a table has no header row.
var ErrEmptyTable = errors.New("table has no header row")

// Column is a resolved table column.
type Column struct {
	Name string
	Pos  int
}

// Loaded is a table read back from an artifact. Cells are raw strings.
type Loaded struct {
	Path   string
	Format Format
	Header []string
	Rows   [][]string

	positions map[string]int
}

// Load reads a table artifact, picking the decoder by extension.
func Load(path string) (*Loaded, error) {
	var (
		grid   [][]string
		format Format
		err    error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		format = FormatCSV
		grid, err = loadBytes(path, func(b []byte) ([][]string, error) {
			return readCSV(bytes.NewReader(b))
		})
	case ".xlsx":
		format = FormatXLSX
		grid, err = loadBytes(path, func(b []byte) ([][]string, error) {
			return readXLSX(bytes.NewReader(b))
		})
	case ".sqlite", ".db":
		format = FormatSQLite

		if _, err = os.Stat(path); err == nil {
			grid, err = readSQLite(path)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if len(grid) == 0 {
		return nil, fmt.Errorf("loading %s: %w", path, ErrEmptyTable)
	}

	l := &Loaded{
		Path:      path,
		Format:    format,
		Header:    grid[0],
		Rows:      grid[1:],
		positions: make(map[string]int, len(grid[0])),
	}

	for i, name := range l.Header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := l.positions[name]; !dup {
			l.positions[name] = i
		}
	}

	return l, nil
}

func loadBytes(path string, decode func([]byte) ([][]string, error)) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return decode(data)
}

// Resolve returns the first of candidates present in the header.
func (l *Loaded) Resolve(candidates []string) (Column, bool) {
	for _, name := range candidates {
		if pos, ok := l.positions[name]; ok {
			return Column{Name: name, Pos: pos}, true
		}
	}

	return Column{}, false
}

// Cell returns the cell of row at col, or "" for short rows.
func (l *Loaded) Cell(row int, col Column) string {
	if row < 0 || row >= len(l.Rows) || col.Pos >= len(l.Rows[row]) {
		return ""
	}

	return l.Rows[row][col.Pos]
}

// FindLatest returns the most recently modified table in dir matching
// LatestPatterns, or "" when there is none. Ties on modification time are
// broken by the greater path.
func FindLatest(dir string) (string, error) {
	var (
		latest  string
		latestT int64
	)

	seen := make(map[string]struct{})

	for _, pattern := range LatestPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", fmt.Errorf("globbing %s: %w", pattern, err)
		}

		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}

			seen[m] = struct{}{}

			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}

			// Equal times go to the greater name, which for energies_<ts>
			// tables is the newer timestamp.
			mod := info.ModTime().UnixNano()
			if latest == "" || mod > latestT || (mod == latestT && m > latest) {
				latest, latestT = m, mod
			}
		}
	}

	return latest, nil
}
