// Package stats summarizes the intensity and label distribution of a
// paired store, e.g. to derive normalization constants.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mrimask/internal/models"
)

// Source is a co-indexed image/label collection.
type Source interface {
	Len() int
	Dims() (height, width int)
	Gather(indices []int) (*models.ImageBatch, *models.LabelBatch, error)
}

// Summary holds corpus-level statistics.
type Summary struct {
	// N, Height, Width are the store dimensions
	N      int
	Height int
	Width  int

	// Intensity statistics over every image pixel
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64

	// ForegroundMean is the mean fraction of mask pixels set per slice
	ForegroundMean float64

	// ForegroundStdDev is the spread of that fraction across slices
	ForegroundStdDev float64

	// EmptyMasks counts slices whose mask has no pixel set
	EmptyMasks int
}

// Describe reads every pair of src once and summarizes it. Slices are read
// one at a time so memory stays proportional to a single slice.
func Describe(src Source) (*Summary, error) {
	s := &Summary{N: src.Len()}
	s.Height, s.Width = src.Dims()
	if s.N == 0 {
		return s, nil
	}

	// Per-slice moments are combined with weights, which matches the
	// moments over all pixels since every slice has the same size.
	means := make([]float64, s.N)
	variances := make([]float64, s.N)
	fractions := make([]float64, s.N)
	s.Min = math.Inf(1)
	s.Max = math.Inf(-1)

	pixels := make([]float64, s.Height*s.Width)
	for i := 0; i < s.N; i++ {
		images, labels, err := src.Gather([]int{i})
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", i, err)
		}
		for k, v := range images.Slice(0) {
			pixels[k] = float64(v)
		}

		means[i], variances[i] = stat.PopMeanVariance(pixels, nil)
		s.Min = math.Min(s.Min, floats.Min(pixels))
		s.Max = math.Max(s.Max, floats.Max(pixels))

		set := 0
		for _, v := range labels.Slice(0) {
			if v {
				set++
			}
		}
		if set == 0 {
			s.EmptyMasks++
		}
		fractions[i] = float64(set) / float64(len(pixels))
	}

	s.Mean = stat.Mean(means, nil)
	// Law of total variance: mean of within-slice variances plus the
	// variance of slice means.
	_, betweenVar := stat.PopMeanVariance(means, nil)
	s.StdDev = math.Sqrt(stat.Mean(variances, nil) + betweenVar)

	s.ForegroundMean, s.ForegroundStdDev = stat.PopMeanStdDev(fractions, nil)

	return s, nil
}
