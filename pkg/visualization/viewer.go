package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"

	"mrimask/internal/models"
)

// Tile is one cell of a montage.
type Tile struct {
	Image image.Image
	Title string
}

// Viewer renders mask overlays for visual inspection of a subject.
type Viewer struct {
	// alpha is the opacity of the mask tint
	alpha float64

	// tint is the color painted over mask pixels
	tint color.RGBA

	// tileSize is the edge length of a montage cell in pixels
	tileSize int
}

// NewViewer creates a viewer with the given mask opacity and tile size.
func NewViewer(alpha float64, tileSize int) *Viewer {
	return &Viewer{
		alpha:    math.Max(0, math.Min(1, alpha)),
		tint:     color.RGBA{R: 255, G: 96, B: 0, A: 255},
		tileSize: tileSize,
	}
}

// Overlay draws img stretched to its own min-max range in gray and blends
// the tint over every pixel set in mask.
func (v *Viewer) Overlay(img *models.CalibratedImage, mask *models.Mask) (*image.RGBA, error) {
	h, w := img.Height(), img.Width()
	if mask.Height != h || mask.Width != w {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Width, mask.Height, w, h)
	}

	raw := img.Pixels.RawMatrix()
	values := make([]float64, 0, h*w)
	for y := 0; y < h; y++ {
		values = append(values, raw.Data[y*raw.Stride:y*raw.Stride+w]...)
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	if span == 0 {
		span = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := (values[y*w+x] - lo) / span * 255
			c := color.RGBA{R: uint8(g), G: uint8(g), B: uint8(g), A: 255}
			if mask.At(x, y) {
				c = v.blend(g)
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out, nil
}

func (v *Viewer) blend(gray float64) color.RGBA {
	mix := func(t uint8) uint8 {
		return uint8(math.Round((1-v.alpha)*gray + v.alpha*float64(t)))
	}
	return color.RGBA{R: mix(v.tint.R), G: mix(v.tint.G), B: mix(v.tint.B), A: 255}
}

// Montage lays tiles out row by row on a rows x cols grid, scaling each to
// the tile size and drawing its title in the top-left corner. Tiles beyond
// rows*cols are dropped.
func (v *Viewer) Montage(tiles []Tile, rows, cols int) (*image.RGBA, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("montage grid must be positive, got %dx%d", rows, cols)
	}
	size := v.tileSize
	out := image.NewRGBA(image.Rect(0, 0, cols*size, rows*size))
	xdraw.Draw(out, out.Bounds(), image.Black, image.Point{}, xdraw.Src)

	for n, tile := range tiles {
		if n >= rows*cols {
			break
		}
		r, c := n/cols, n%cols
		cell := image.Rect(c*size, r*size, (c+1)*size, (r+1)*size)
		xdraw.BiLinear.Scale(out, cell, tile.Image, tile.Image.Bounds(), xdraw.Src, nil)

		if tile.Title != "" {
			d := &font.Drawer{
				Dst:  out,
				Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 0, A: 255}),
				Face: basicfont.Face7x13,
				Dot:  fixed.P(cell.Min.X+3, cell.Min.Y+13),
			}
			d.DrawString(tile.Title)
		}
	}
	return out, nil
}

// Preview overlays every pair and arranges the result as a montage titled
// by slice index.
func (v *Viewer) Preview(pairs []*models.Pair, rows, cols int) (*image.RGBA, error) {
	tiles := make([]Tile, 0, len(pairs))
	for _, p := range pairs {
		img, err := v.Overlay(p.Image, p.Mask)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", p.SliceIndex, err)
		}
		tiles = append(tiles, Tile{Image: img, Title: p.SliceIndex})
	}
	return v.Montage(tiles, rows, cols)
}

// SavePNG writes img to filename, creating parent directories.
func (v *Viewer) SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}
