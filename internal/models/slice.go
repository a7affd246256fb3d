package models

import (
	"gonum.org/v1/gonum/mat"
)

// Point is a vertex of a contour in continuous image coordinates.
// X runs along columns and Y along rows.
type Point struct {
	X, Y float64
}

// Contour is an ordered polygon as read from an annotation file.
// The order defines the boundary winding and is never changed.
type Contour []Point

// CalibratedImage represents a single decoded MRI slice
type CalibratedImage struct {
	// Pixels holds the slice values with rows = height and cols = width.
	// Values already have the calibration applied when Calibrated is true.
	Pixels *mat.Dense

	// Slope and Intercept are the rescale parameters found in the file
	Slope     float64
	Intercept float64

	// HasSlope and HasIntercept record whether the parameters were present
	HasSlope     bool
	HasIntercept bool

	// Calibrated reports whether value*Slope+Intercept was applied
	Calibrated bool
}

// Height returns the number of rows in the grid.
func (c *CalibratedImage) Height() int {
	r, _ := c.Pixels.Dims()
	return r
}

// Width returns the number of columns in the grid.
func (c *CalibratedImage) Width() int {
	_, w := c.Pixels.Dims()
	return w
}

// Float32 returns the grid flattened in row-major order.
func (c *CalibratedImage) Float32() []float32 {
	h, w := c.Pixels.Dims()
	out := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float32(c.Pixels.At(y, x))
		}
	}
	return out
}

// Mask is a boolean occupancy grid in row-major order.
type Mask struct {
	Height int
	Width  int
	Data   []bool
}

// NewMask returns an all-false mask of the given size.
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{
		Height: height,
		Width:  width,
		Data:   make([]bool, width*height),
	}
}

// In reports whether (x, y) lies on the grid.
func (m *Mask) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// At returns the value at column x, row y. Off-grid reads are false.
func (m *Mask) At(x, y int) bool {
	if !m.In(x, y) {
		return false
	}
	return m.Data[y*m.Width+x]
}

// Set marks column x, row y. Off-grid writes are ignored.
func (m *Mask) Set(x, y int) {
	if m.In(x, y) {
		m.Data[y*m.Width+x] = true
	}
}

// Count returns the number of true pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Pair is one matched training example.
type Pair struct {
	// Subject is the contour subject directory name
	Subject string

	// ImagingID is the imaging subject the contour was joined to
	ImagingID string

	// SliceIndex is the join key derived from the contour filename
	SliceIndex string

	// ContourFile is the path of the annotation
	ContourFile string

	Image *CalibratedImage
	Mask  *Mask
}

// ImageBatch is a (N, H, W) block of image slices in row-major order.
type ImageBatch struct {
	N, H, W int
	Data    []float32
}

// At returns the value of element k at row y, column x.
func (b *ImageBatch) At(k, y, x int) float32 {
	return b.Data[(k*b.H+y)*b.W+x]
}

// Slice returns element k as a flat H*W view.
func (b *ImageBatch) Slice(k int) []float32 {
	n := b.H * b.W
	return b.Data[k*n : (k+1)*n]
}

// LabelBatch is a (N, H, W) block of masks in row-major order.
type LabelBatch struct {
	N, H, W int
	Data    []bool
}

// At returns the value of element k at row y, column x.
func (b *LabelBatch) At(k, y, x int) bool {
	return b.Data[(k*b.H+y)*b.W+x]
}

// Slice returns element k as a flat H*W view.
func (b *LabelBatch) Slice(k int) []bool {
	n := b.H * b.W
	return b.Data[k*n : (k+1)*n]
}
