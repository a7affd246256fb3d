package stats

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"

	"mrimask/internal/models"
)

// sliceSource serves fixed 2x2 slices
type sliceSource struct {
	images [][]float32
	labels [][]bool
}

func (s *sliceSource) Len() int {
	return len(s.images)
}

func (s *sliceSource) Dims() (int, int) {
	if len(s.images) == 0 {
		return 0, 0
	}
	return 2, 2
}

func (s *sliceSource) Gather(indices []int) (*models.ImageBatch, *models.LabelBatch, error) {
	images := &models.ImageBatch{N: len(indices), H: 2, W: 2}
	labels := &models.LabelBatch{N: len(indices), H: 2, W: 2}
	for _, i := range indices {
		images.Data = append(images.Data, s.images[i]...)
		labels.Data = append(labels.Data, s.labels[i]...)
	}
	return images, labels, nil
}

func TestDescribe(t *testing.T) {
	src := &sliceSource{
		images: [][]float32{{0, 1, 2, 3}, {4, 5, 6, 7}},
		labels: [][]bool{{true, false, false, false}, {false, false, false, false}},
	}

	s, err := Describe(src)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}

	if s.N != 2 || s.Height != 2 || s.Width != 2 {
		t.Errorf("Unexpected dims %d (%dx%d)", s.N, s.Height, s.Width)
	}
	if !scalar.EqualWithinAbs(s.Mean, 3.5, 1e-12) {
		t.Errorf("Expected mean 3.5, got %v", s.Mean)
	}
	// Population std of 0..7 is sqrt(5.25)
	if !scalar.EqualWithinAbs(s.StdDev, math.Sqrt(5.25), 1e-12) {
		t.Errorf("Expected std %v, got %v", math.Sqrt(5.25), s.StdDev)
	}
	if s.Min != 0 || s.Max != 7 {
		t.Errorf("Expected range [0, 7], got [%v, %v]", s.Min, s.Max)
	}
	if !scalar.EqualWithinAbs(s.ForegroundMean, 0.125, 1e-12) {
		t.Errorf("Expected foreground mean 0.125, got %v", s.ForegroundMean)
	}
	if s.EmptyMasks != 1 {
		t.Errorf("Expected 1 empty mask, got %d", s.EmptyMasks)
	}
}

func TestDescribeEmpty(t *testing.T) {
	s, err := Describe(&sliceSource{})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if s.N != 0 {
		t.Errorf("Expected empty summary, got %+v", s)
	}
}
