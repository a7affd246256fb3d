// Package raster converts contour polygons into occupancy masks.
package raster

import (
	"math"
	"sort"

	"mrimask/internal/models"
)

// PolygonMask returns a (height, width) mask where a pixel is set when it lies
// on or inside poly under the even-odd rule. X maps to columns and Y to rows.
//
// Degenerate polygons never fail: fewer than three vertices, zero area or
// self-intersection produce whatever the scanline fill and outline give,
// which may be an all-false mask.
func PolygonMask(poly models.Contour, width, height int) *models.Mask {
	mask := models.NewMask(width, height)
	if mask.Width == 0 || mask.Height == 0 {
		return mask
	}

	pts := finite(poly)
	if len(pts) == 0 {
		return mask
	}

	if len(pts) >= 3 {
		fillEvenOdd(mask, pts)
	}
	drawOutline(mask, pts)

	return mask
}

// finite drops vertices with NaN or infinite coordinates.
func finite(poly models.Contour) models.Contour {
	out := make(models.Contour, 0, len(poly))
	for _, p := range poly {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// fillEvenOdd scans every integer row the polygon spans. Edges cover the
// half-open range [ymin, ymax) so shared vertices are counted once.
func fillEvenOdd(mask *models.Mask, pts models.Contour) {
	ymin, ymax := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}

	rowStart := int(math.Max(0, math.Ceil(ymin)))
	rowEnd := int(math.Min(float64(mask.Height-1), math.Floor(ymax)))

	n := len(pts)
	xs := make([]float64, 0, n)
	for y := rowStart; y <= rowEnd; y++ {
		fy := float64(y)
		xs = xs[:0]
		for i := 0; i < n; i++ {
			a, b := pts[i], pts[(i+1)%n]
			if a.Y == b.Y {
				continue
			}
			lo, hi := a, b
			if lo.Y > hi.Y {
				lo, hi = hi, lo
			}
			if fy < lo.Y || fy >= hi.Y {
				continue
			}
			xs = append(xs, a.X+(fy-a.Y)*(b.X-a.X)/(b.Y-a.Y))
		}
		sort.Float64s(xs)

		for k := 0; k+1 < len(xs); k += 2 {
			x0 := int(math.Round(xs[k]))
			x1 := int(math.Round(xs[k+1]))
			if x1 < 0 || x0 >= mask.Width {
				continue
			}
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= mask.Width {
				x1 = mask.Width - 1
			}
			row := mask.Data[y*mask.Width : (y+1)*mask.Width]
			for x := x0; x <= x1; x++ {
				row[x] = true
			}
		}
	}
}

// drawOutline sets the pixels nearest to every point of every edge,
// including the closing edge.
func drawOutline(mask *models.Mask, pts models.Contour) {
	if len(pts) == 1 {
		mask.Set(int(math.Round(pts[0].X)), int(math.Round(pts[0].Y)))
		return
	}
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		drawSegment(mask, a, b)
	}
}

func drawSegment(mask *models.Mask, a, b models.Point) {
	// Clip against the grid padded by one pixel so rounding at the border
	// still lands on edge pixels.
	t0, t1, ok := clipSegment(a, b, -1, -1, float64(mask.Width), float64(mask.Height))
	if !ok {
		return
	}
	dx, dy := b.X-a.X, b.Y-a.Y
	p0 := models.Point{X: a.X + t0*dx, Y: a.Y + t0*dy}
	p1 := models.Point{X: a.X + t1*dx, Y: a.Y + t1*dy}

	steps := int(math.Ceil(math.Max(math.Abs(p1.X-p0.X), math.Abs(p1.Y-p0.Y))))
	if steps == 0 {
		mask.Set(int(math.Round(p0.X)), int(math.Round(p0.Y)))
		return
	}
	sx := (p1.X - p0.X) / float64(steps)
	sy := (p1.Y - p0.Y) / float64(steps)
	for s := 0; s <= steps; s++ {
		x := p0.X + float64(s)*sx
		y := p0.Y + float64(s)*sy
		mask.Set(int(math.Round(x)), int(math.Round(y)))
	}
}

// clipSegment is Liang-Barsky clipping of a->b against the box
// [xmin, xmax] x [ymin, ymax]. It returns the parameter range kept.
func clipSegment(a, b models.Point, xmin, ymin, xmax, ymax float64) (float64, float64, bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := b.X-a.X, b.Y-a.Y

	edges := [4][2]float64{
		{-dx, a.X - xmin},
		{dx, xmax - a.X},
		{-dy, a.Y - ymin},
		{dy, ymax - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return 0, 0, false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return 0, 0, false
			}
			if r < t1 {
				t1 = r
			}
		}
	}
	return t0, t1, true
}
