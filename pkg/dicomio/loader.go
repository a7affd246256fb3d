// Package dicomio decodes DICOM slices into calibrated numeric grids.
package dicomio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"mrimask/internal/models"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("cannot decode image")

// DecodeError reports a missing or unreadable image file.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Loader turns an image file into a CalibratedImage.
type Loader interface {
	Load(path string) (*models.CalibratedImage, error)
}

// DICOMLoader reads single-frame native DICOM files.
type DICOMLoader struct{}

// NewDICOMLoader returns a loader backed by github.com/suyashkumar/dicom.
func NewDICOMLoader() *DICOMLoader {
	return &DICOMLoader{}
}

// Load parses path and returns the first frame with calibration applied.
func (l *DICOMLoader) Load(path string) (*models.CalibratedImage, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	pixels, err := firstFrame(ds)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	img := &models.CalibratedImage{Pixels: pixels}
	img.Slope, img.HasSlope = decimalTag(ds, tag.RescaleSlope)
	img.Intercept, img.HasIntercept = decimalTag(ds, tag.RescaleIntercept)
	Calibrate(img)

	return img, nil
}

// Calibrate applies value*Slope+Intercept in place when both parameters are
// present and non-zero. Otherwise the raw values are kept.
func Calibrate(img *models.CalibratedImage) {
	if img.Calibrated {
		return
	}
	if !img.HasSlope || !img.HasIntercept || img.Slope == 0 || img.Intercept == 0 {
		return
	}
	slope, intercept := img.Slope, img.Intercept
	img.Pixels.Apply(func(_, _ int, v float64) float64 {
		return v*slope + intercept
	}, img.Pixels)
	img.Calibrated = true
}

func firstFrame(ds dicom.Dataset) (*mat.Dense, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}

	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, errors.New("pixel data has no frames")
	}

	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return nil, errors.New("encapsulated pixel data is not supported")
	}

	native := fr.NativeData
	rows, cols := native.Rows(), native.Cols()
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cols, rows)
	}

	grid := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := native.GetPixel(x, y)
			if err != nil {
				return nil, fmt.Errorf("pixel (%d, %d): %w", x, y, err)
			}
			if len(px) == 0 {
				return nil, fmt.Errorf("pixel (%d, %d) has no samples", x, y)
			}
			grid.Set(y, x, float64(px[0]))
		}
	}

	return grid, nil
}

// decimalTag reads a DS element. Absent or unparsable values report false.
func decimalTag(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	strs, ok := el.Value.GetValue().([]string)
	if !ok || len(strs) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strs[0]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
