// Package dataset assembles contour annotations and DICOM slices into a
// paired image/label store.
package dataset

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mrimask/internal/models"
	"mrimask/pkg/contour"
	"mrimask/pkg/dicomio"
	"mrimask/pkg/raster"
	"mrimask/pkg/remap"
	"mrimask/pkg/store"
)

// ErrSliceIndex is returned when a contour filename does not carry a slice
// number at the configured position.
var ErrSliceIndex = errors.New("cannot derive slice index")

// errStop ends a subject walk early without reporting an error.
var errStop = errors.New("stop")

// Params holds the input layout used to join contours to images.
type Params struct {
	// ContourSubdir is the directory inside each contour subject with the polygon files
	ContourSubdir string

	// ContourExt is the suffix a contour file must have
	ContourExt string

	// ImageExt is the suffix of image files, including the dot
	ImageExt string

	// SliceIndexStart and SliceIndexEnd select the slice number in a contour filename
	SliceIndexStart int
	SliceIndexEnd   int

	// Verbose logs every processed slice
	Verbose bool
}

// DefaultParams returns the layout of the cardiac MRI contour dataset.
func DefaultParams() *Params {
	return &Params{
		ContourSubdir:   "i-contours",
		ContourExt:      ".txt",
		ImageExt:        ".dcm",
		SliceIndexStart: 8,
		SliceIndexEnd:   12,
		Verbose:         true,
	}
}

// Summary describes a finished build.
type Summary struct {
	Subjects int
	Slices   int
	Height   int
	Width    int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLoader replaces the DICOM loader.
func WithLoader(l dicomio.Loader) Option {
	return func(b *Builder) {
		b.loader = l
	}
}

// WithLogger sets the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// Builder joins contours with images and writes paired stores.
type Builder struct {
	params *Params
	loader dicomio.Loader
	logger *log.Logger
}

// NewBuilder creates a builder. A nil params uses DefaultParams.
func NewBuilder(params *Params, opts ...Option) *Builder {
	if params == nil {
		params = DefaultParams()
	}
	b := &Builder{
		params: params,
		loader: dicomio.NewDICOMLoader(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build writes a new paired store at outPath from every subject under
// contourDir. The store must not exist yet. Any error aborts the build;
// pairs appended before the error stay in the store, which is always
// flushed and closed.
func (b *Builder) Build(contourDir, imageDir, linkFile, outPath string) (summary *Summary, err error) {
	table, err := remap.Load(linkFile)
	if err != nil {
		return nil, err
	}

	subjects, err := listSubjects(contourDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list contour subjects: %w", err)
	}

	ps, err := store.CreatePaired(outPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ps.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()

	summary = &Summary{}
	for _, subject := range subjects {
		imagingID, err := table.Lookup(subject)
		if err != nil {
			return summary, err
		}

		contourSubjectDir := filepath.Join(contourDir, subject)
		imageSubjectDir := filepath.Join(imageDir, imagingID)
		err = b.walkSubject(subject, imagingID, contourSubjectDir, imageSubjectDir, func(pair *models.Pair) error {
			if err := ps.Append(pair.Image, pair.Mask); err != nil {
				return fmt.Errorf("failed to store %s: %w", pair.ContourFile, err)
			}
			summary.Slices++
			return nil
		})
		if err != nil {
			return summary, err
		}
		summary.Subjects++
	}

	summary.Height, summary.Width = ps.Dims()
	b.logger.Printf("Wrote %d slices from %d subjects (%dx%d) to %s",
		summary.Slices, summary.Subjects, summary.Width, summary.Height, outPath)

	return summary, nil
}

// Preview returns up to limit pairs for a single subject without writing
// anything. contourSubjectDir is the subject directory (the one holding
// ContourSubdir) and imageSubjectDir holds its slice images. A limit of 0
// or less returns every pair.
func (b *Builder) Preview(contourSubjectDir, imageSubjectDir string, limit int) ([]*models.Pair, error) {
	var pairs []*models.Pair
	subject := filepath.Base(contourSubjectDir)
	imagingID := filepath.Base(imageSubjectDir)

	err := b.walkSubject(subject, imagingID, contourSubjectDir, imageSubjectDir, func(pair *models.Pair) error {
		pairs = append(pairs, pair)
		if limit > 0 && len(pairs) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return pairs, nil
}

// walkSubject visits every contour of one subject in filename order,
// loads the matching slice and rasterizes the contour against it.
func (b *Builder) walkSubject(subject, imagingID, contourSubjectDir, imageSubjectDir string, visit func(*models.Pair) error) error {
	dir := filepath.Join(contourSubjectDir, b.params.ContourSubdir)
	files, err := b.listContours(dir)
	if err != nil {
		return fmt.Errorf("failed to list contours for %s: %w", subject, err)
	}

	for _, name := range files {
		if b.params.Verbose {
			b.logger.Printf("Working on subject %s, slice %s", subject, name)
		}

		contourPath := filepath.Join(dir, name)
		poly, err := contour.ParseFile(contourPath)
		if err != nil {
			return err
		}

		sliceIdx, err := SliceIndex(name, b.params.SliceIndexStart, b.params.SliceIndexEnd)
		if err != nil {
			return err
		}

		imagePath := filepath.Join(imageSubjectDir, sliceIdx+b.params.ImageExt)
		img, err := b.loader.Load(imagePath)
		if err != nil {
			return err
		}

		mask := raster.PolygonMask(poly, img.Width(), img.Height())

		pair := &models.Pair{
			Subject:     subject,
			ImagingID:   imagingID,
			SliceIndex:  sliceIdx,
			ContourFile: contourPath,
			Image:       img,
			Mask:        mask,
		}
		if err := visit(pair); err != nil {
			return err
		}
	}
	return nil
}

// listContours returns visible files in dir ending in ContourExt, sorted.
func (b *Builder) listContours(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, b.params.ContourExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// listSubjects returns the visible subdirectories of dir, sorted.
func listSubjects(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SliceIndex extracts name[start:end] and strips leading zeros. An all-zero
// field gives "0". The field must be decimal digits.
func SliceIndex(name string, start, end int) (string, error) {
	if start < 0 || end <= start || len(name) < end {
		return "", fmt.Errorf("%w: %q has no characters [%d, %d)", ErrSliceIndex, name, start, end)
	}
	field := name[start:end]
	for _, c := range field {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: %q is not a number in %q", ErrSliceIndex, field, name)
		}
	}
	idx := strings.TrimLeft(field, "0")
	if idx == "" {
		idx = "0"
	}
	return idx, nil
}
