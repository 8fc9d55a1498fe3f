package diff

import (
	"errors"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// PixelOptions tunes the perceptual comparison
type PixelOptions struct {
	// Threshold in [0, 1]; smaller is more sensitive
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences
	IncludeAA bool
	// Alpha is the opacity of the unchanged background in the diff image
	Alpha     float64
	DiffColor color.NRGBA
	AAColor   color.NRGBA
}

// DefaultPixelOptions returns threshold 0.1 with anti-aliasing ignored
func DefaultPixelOptions() PixelOptions {
	return PixelOptions{
		Threshold: 0.1,
		Alpha:     0.1,
		DiffColor: color.NRGBA{255, 0, 0, 255},
		AAColor:   color.NRGBA{255, 255, 0, 255},
	}
}

// PixelResult is the outcome of Pixels
type PixelResult struct {
	Image       *image.NRGBA
	DiffPixels  int
	TotalPixels int
}

// Ratio is the share of differing pixels
func (r PixelResult) Ratio() float64 {
	if r.TotalPixels == 0 {
		return 0
	}
	return float64(r.DiffPixels) / float64(r.TotalPixels)
}

// Pixels compares two renders. When their bounds differ, b is resampled to the
// size of a first.
func Pixels(a, b image.Image, opts PixelOptions) (PixelResult, error) {
	if a == nil || b == nil {
		return PixelResult{}, errors.New("both images are required")
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return PixelResult{}, errors.New("threshold must be in [0, 1]")
	}

	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	if w == 0 || h == 0 {
		return PixelResult{}, errors.New("image is empty")
	}
	img1 := toNRGBA(a, w, h)
	img2 := toNRGBA(b, w, h)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	maxDelta := 35215 * opts.Threshold * opts.Threshold
	count := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := img1.PixOffset(x, y)
			delta := colorDelta(img1.Pix, img2.Pix, pos, pos, false)

			if math.Abs(delta) > maxDelta {
				if !opts.IncludeAA && (antialiased(img1, x, y, img2) || antialiased(img2, x, y, img1)) {
					out.SetNRGBA(x, y, opts.AAColor)
					continue
				}
				out.SetNRGBA(x, y, opts.DiffColor)
				count++
				continue
			}
			grayPixel(img1.Pix, pos, opts.Alpha, out)
		}
	}

	return PixelResult{Image: out, DiffPixels: count, TotalPixels: w * h}, nil
}

func toNRGBA(src image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

func grayPixel(pix []uint8, pos int, alpha float64, out *image.NRGBA) {
	r, g, b := float64(pix[pos]), float64(pix[pos+1]), float64(pix[pos+2])
	a := float64(pix[pos+3]) / 255
	y := blend(rgb2y(r, g, b), alpha*a)
	v := uint8(y)
	o := out.Pix[pos : pos+4 : pos+4]
	o[0], o[1], o[2], o[3] = v, v, v, 255
}

// colorDelta is the squared YIQ distance between two pixels after blending
// each with white by its alpha. The sign tells which pixel is lighter. With
// yOnly the luma difference alone is returned.
func colorDelta(pix1, pix2 []uint8, k, m int, yOnly bool) float64 {
	r1, g1, b1, a1 := float64(pix1[k]), float64(pix1[k+1]), float64(pix1[k+2]), float64(pix1[k+3])
	r2, g2, b2, a2 := float64(pix2[m]), float64(pix2[m+1]), float64(pix2[m+2]), float64(pix2[m+3])

	if a1 == a2 && r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}
	if a1 < 255 {
		a1 /= 255
		r1, g1, b1 = blend(r1, a1), blend(g1, a1), blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2, g2, b2 = blend(r2, a2), blend(g2, a2), blend(b2, a2)
	}

	y1, y2 := rgb2y(r1, g1, b1), rgb2y(r2, g2, b2)
	dy := y1 - y2
	if yOnly {
		return dy
	}
	di := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	dq := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)
	delta := 0.5053*dy*dy + 0.299*di*di + 0.1957*dq*dq
	if y1 > y2 {
		return -delta
	}
	return delta
}

// antialiased reports whether the pixel at (x1, y1) looks like an anti-aliased
// edge: its neighbours span both darker and lighter values, and the extremes sit
// in flat regions of both images.
func antialiased(img *image.NRGBA, x1, y1 int, other *image.NRGBA) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	pos := img.PixOffset(x1, y1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	var lo, hi float64
	var loX, loY, hiX, hiY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := colorDelta(img.Pix, img.Pix, pos, img.PixOffset(x, y), true)
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < lo:
				lo, loX, loY = delta, x, y
			case delta > hi:
				hi, hiX, hiY = delta, x, y
			}
		}
	}
	if lo == 0 || hi == 0 {
		return false
	}
	return (hasManySiblings(img, loX, loY) && hasManySiblings(other, loX, loY)) ||
		(hasManySiblings(img, hiX, hiY) && hasManySiblings(other, hiX, hiY))
}

// hasManySiblings reports whether at least three neighbours equal the pixel
func hasManySiblings(img *image.NRGBA, x1, y1 int) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	pos := img.PixOffset(x1, y1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			p := img.PixOffset(x, y)
			if img.Pix[pos] == img.Pix[p] && img.Pix[pos+1] == img.Pix[p+1] &&
				img.Pix[pos+2] == img.Pix[p+2] && img.Pix[pos+3] == img.Pix[p+3] {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

// blend mixes c with white by alpha
func blend(c, a float64) float64 { return 255 + (c-255)*a }
