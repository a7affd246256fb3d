package dicomio

import (
	"errors"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"mrimask/internal/models"
)

func rawImage(value float64) *models.CalibratedImage {
	return &models.CalibratedImage{Pixels: mat.NewDense(1, 1, []float64{value})}
}

// TestCalibrate covers the rule that both rescale values must be present and non-zero
func TestCalibrate(t *testing.T) {
	cases := []struct {
		name      string
		slope     float64
		intercept float64
		hasSlope  bool
		hasInt    bool
		want      float64
	}{
		{"both set", 2.0, 1.0, true, true, 7.0},
		{"zero slope", 0.0, 1.0, true, true, 3.0},
		{"zero intercept", 2.0, 0.0, true, true, 3.0},
		{"missing slope", 2.0, 1.0, false, true, 3.0},
		{"missing intercept", 2.0, 1.0, true, false, 3.0},
		{"negative intercept", 1.0, -1024.0, true, true, -1021.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := rawImage(3.0)
			img.Slope, img.HasSlope = tc.slope, tc.hasSlope
			img.Intercept, img.HasIntercept = tc.intercept, tc.hasInt

			Calibrate(img)

			if got := img.Pixels.At(0, 0); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCalibrateOnce(t *testing.T) {
	img := rawImage(3.0)
	img.Slope, img.HasSlope = 2, true
	img.Intercept, img.HasIntercept = 1, true

	Calibrate(img)
	Calibrate(img)

	if got := img.Pixels.At(0, 0); got != 7.0 {
		t.Errorf("Expected calibration to apply once, got %v", got)
	}
}

// TestRoundTrip writes a synthetic slice and decodes it again
func TestRoundTrip(t *testing.T) {
	rows, cols := 6, 4
	raw := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			raw.Set(y, x, float64(y*cols+x))
		}
	}

	path := filepath.Join(t.TempDir(), "48.dcm")
	if err := WriteSlice(path, raw, WithRescale(2.0, 1.0)); err != nil {
		t.Fatalf("WriteSlice failed: %v", err)
	}

	img, err := NewDICOMLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if img.Height() != rows || img.Width() != cols {
		t.Fatalf("Expected %dx%d grid, got %dx%d", rows, cols, img.Height(), img.Width())
	}
	if !img.Calibrated {
		t.Fatal("Expected calibration to be applied")
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			want := float64(y*cols+x)*2 + 1
			if got := img.Pixels.At(y, x); got != want {
				t.Errorf("Pixel (%d, %d): expected %v, got %v", x, y, want, got)
			}
		}
	}
}

func TestRoundTripNoRescale(t *testing.T) {
	raw := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	path := filepath.Join(t.TempDir(), "1.dcm")
	if err := WriteSlice(path, raw); err != nil {
		t.Fatalf("WriteSlice failed: %v", err)
	}

	img, err := NewDICOMLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Calibrated || img.HasSlope || img.HasIntercept {
		t.Error("Expected no calibration without rescale tags")
	}
	if !mat.Equal(img.Pixels, raw) {
		t.Errorf("Expected raw values to pass through, got %v", mat.Formatted(img.Pixels))
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := NewDICOMLoader().Load(filepath.Join(t.TempDir(), "nope.dcm"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
}
