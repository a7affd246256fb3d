// Package contour reads polygon annotations stored as one "x y" pair per line.
package contour

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mrimask/internal/models"
)

// ErrParse is matched by every error returned for a malformed contour line.
var ErrParse = errors.New("malformed contour")

// ParseError locates a malformed line within a contour file.
type ParseError struct {
	File string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%d: malformed contour line %q: %v", e.File, e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%s:%d: malformed contour line %q", e.File, e.Line, e.Text)
}

// Is makes errors.Is(err, ErrParse) hold for any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseFile parses the contour file at path.
func ParseFile(path string) (models.Contour, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contour file: %w", err)
	}
	defer f.Close()

	return Parse(f, path)
}

// Parse reads points from r in order. name is only used in errors.
// Each non-blank line must start with two numeric tokens; anything after
// the second token is ignored.
func Parse(r io.Reader, name string) (models.Contour, error) {
	var points models.Contour

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, &ParseError{File: name, Line: lineNo, Text: line,
				Err: fmt.Errorf("expected 2 coordinates, found %d", len(fields))}
		}

		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, &ParseError{File: name, Line: lineNo, Text: line, Err: err}
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, &ParseError{File: name, Line: lineNo, Text: line, Err: err}
		}

		points = append(points, models.Point{X: x, Y: y})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return points, nil
}
