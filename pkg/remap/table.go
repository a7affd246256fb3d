// Package remap loads the table linking contour subject IDs to imaging
// subject IDs.
package remap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrLookup is matched by LookupError.
var ErrLookup = errors.New("contour ID not in link table")

// LookupError names the contour subject that has no imaging subject.
type LookupError struct {
	ContourID string
	Table     string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("contour ID %q not found in link table %s", e.ContourID, e.Table)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookup
}

// Table maps contour subject directory names to imaging subject directory
// names.
type Table struct {
	source string
	links  map[string]string
}

// Load reads a link file. The first row is a header; in the remaining rows
// column 0 is the imaging ID and column 1 the contour ID.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open link file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link file %s: %w", path, err)
	}
	t.source = path
	return t, nil
}

// Parse reads a link table from r.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	t := &Table{source: "<reader>", links: make(map[string]string)}

	header := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(record) < 2 {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected 2 columns, found %d", line, len(record))
		}
		imaging := strings.TrimSpace(record[0])
		contour := strings.TrimSpace(record[1])
		// Later rows win, as with a dict built row by row.
		t.links[contour] = imaging
	}

	return t, nil
}

// Lookup returns the imaging ID for contourID.
func (t *Table) Lookup(contourID string) (string, error) {
	id, ok := t.links[contourID]
	if !ok {
		return "", &LookupError{ContourID: contourID, Table: t.source}
	}
	return id, nil
}

// Len returns the number of links.
func (t *Table) Len() int {
	return len(t.links)
}

// ContourIDs returns the known contour IDs in sorted order.
func (t *Table) ContourIDs() []string {
	ids := make([]string, 0, len(t.links))
	for id := range t.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
