package imaging

import (
	"image"
	"math"
)

// Luminance converts the r region of img to 8-bit gray using the ITU-R
// BT.601 weights. The result is anchored at the origin.
func Luminance(img *image.RGBA, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	g := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := img.Pix[img.PixOffset(r.Min.X, r.Min.Y+y):]
		dst := g.Pix[y*g.Stride:]
		for x := 0; x < r.Dx(); x++ {
			p := src[4*x : 4*x+3]
			v := 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
			dst[x] = uint8(math.Min(255, math.Round(v)))
		}
	}
	return g
}

// span is one source pixel's share of a destination pixel.
type span struct {
	idx    int
	weight float64
}

// areaSpans maps each of dst output pixels onto the src input pixels it
// covers, weighting by the covered fraction.
func areaSpans(src, dst int) [][]span {
	scale := float64(src) / float64(dst)
	out := make([][]span, dst)
	for d := 0; d < dst; d++ {
		lo := float64(d) * scale
		hi := lo + scale
		var spans []span
		for s := int(math.Floor(lo)); s < src && float64(s) < hi; s++ {
			w := math.Min(hi, float64(s+1)) - math.Max(lo, float64(s))
			if w > 1e-9 {
				spans = append(spans, span{idx: s, weight: w / scale})
			}
		}
		out[d] = spans
	}
	return out
}

// ResizeArea resamples g to w×h by area averaging: every output sample is
// the mean of the source pixels it covers, counting partial pixels by their
// covered fraction. Samples are rounded to whole intensities and returned
// row-major in the 0-255 range.
func ResizeArea(g *image.Gray, w, h int) []float32 {
	b := g.Bounds()
	out := make([]float32, w*h)
	if b.Empty() || w <= 0 || h <= 0 {
		return out
	}
	xs := areaSpans(b.Dx(), w)
	ys := areaSpans(b.Dy(), h)
	for oy, yspans := range ys {
		for ox, xspans := range xs {
			var sum float64
			for _, sy := range yspans {
				row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+sy.idx):]
				var acc float64
				for _, sx := range xspans {
					acc += float64(row[sx.idx]) * sx.weight
				}
				sum += acc * sy.weight
			}
			out[oy*w+ox] = float32(math.Min(255, math.Round(sum)))
		}
	}
	return out
}
