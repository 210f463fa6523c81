package buildconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Well-known .build.info columns.
const (
	ColumnActive   = "Active"
	ColumnBuildKey = "Build Key"
	ColumnVersion  = "Version"
	ColumnProduct  = "Product"
)

// BuildInfoName is the file name of the build table at an installation root.
const BuildInfoName = ".build.info"

// BuildInfo is the parsed .build.info table.
//
// The first line declares pipe-separated columns as "Name!TYPE:size"; each
// following line is one row.
type BuildInfo struct {
	columns map[string]int
	rows    [][]string
}

// ParseBuildInfo reads a .build.info table.
func ParseBuildInfo(r io.Reader) (*BuildInfo, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read build info: %w", err)
		}
		return nil, errors.New("build info is empty")
	}

	b := &BuildInfo{columns: make(map[string]int)}
	for i, col := range strings.Split(sc.Text(), "|") {
		name, _, _ := strings.Cut(col, "!")
		b.columns[strings.TrimSpace(name)] = i
	}

	for sc.Scan() {
		text := sc.Text()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		b.rows = append(b.rows, strings.Split(text, "|"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	return b, nil
}

// LoadBuildInfo parses the .build.info table at path.
func LoadBuildInfo(path string) (*BuildInfo, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("open build info: %w", err)
	}
	defer f.Close()
	return ParseBuildInfo(f)
}

// Len returns the number of rows.
func (b *BuildInfo) Len() int {
	return len(b.rows)
}

// Get returns a cell by row number and column name.
func (b *BuildInfo) Get(row int, column string) (string, bool) {
	col, ok := b.columns[column]
	if !ok || row < 0 || row >= len(b.rows) || col >= len(b.rows[row]) {
		return "", false
	}
	return b.rows[row][col], true
}

// ActiveRow returns the first row marked active, or the first row when the
// table has no Active column.
func (b *BuildInfo) ActiveRow() (int, bool) {
	if len(b.rows) == 0 {
		return 0, false
	}
	if _, ok := b.columns[ColumnActive]; !ok {
		return 0, true
	}
	for i := range b.rows {
		if v, _ := b.Get(i, ColumnActive); v == "1" {
			return i, true
		}
	}
	return 0, false
}

// BuildKey returns the build configuration key of the active row.
func (b *BuildInfo) BuildKey() (string, error) {
	row, ok := b.ActiveRow()
	if !ok {
		return "", errors.New("build info has no active build")
	}
	key, ok := b.Get(row, ColumnBuildKey)
	if !ok || key == "" {
		return "", errors.New("build info has no build key")
	}
	return key, nil
}
