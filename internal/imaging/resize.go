package imaging

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Resize scales f to exactly width×height; aspect ratio is not preserved.
// Shrinking on both axes averages source pixels by covered area; any
// enlargement falls back to bilinear interpolation, which is what area
// averaging reduces to when a destination pixel is smaller than a source one.
func Resize(f *Frame, width, height int) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: target size %dx%d", ErrInvalidInput, width, height)
	}
	if width == f.Width && height == f.Height {
		return f.Clone(), nil
	}
	if width <= f.Width && height <= f.Height {
		return resizeArea(f, width, height), nil
	}
	return resizeBilinear(f, width, height)
}

type span struct {
	idx    int
	weight float64
}

// areaSpans lists, for each destination index, the source indices it covers
// and the normalised fraction each contributes.
func areaSpans(src, dst int) [][]span {
	scale := float64(src) / float64(dst)
	out := make([][]span, dst)
	for d := 0; d < dst; d++ {
		lo := float64(d) * scale
		hi := lo + scale
		first := int(math.Floor(lo))
		last := int(math.Ceil(hi))
		if last > src {
			last = src
		}
		spans := make([]span, 0, last-first)
		for s := first; s < last; s++ {
			w := math.Min(hi, float64(s+1)) - math.Max(lo, float64(s))
			if w <= 1e-9 {
				continue
			}
			spans = append(spans, span{idx: s, weight: w / scale})
		}
		out[d] = spans
	}
	return out
}

func resizeArea(f *Frame, width, height int) *Frame {
	cn := f.Channels
	xs := areaSpans(f.Width, width)
	ys := areaSpans(f.Height, height)

	// horizontal pass into a float buffer of width×srcHeight.
	tmp := make([]float64, width*f.Height*cn)
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Width*cn : (y+1)*f.Width*cn]
		for x, sp := range xs {
			base := (y*width + x) * cn
			for _, s := range sp {
				for c := 0; c < cn; c++ {
					tmp[base+c] += float64(row[s.idx*cn+c]) * s.weight
				}
			}
		}
	}

	out := NewFrame(width, height, cn)
	acc := make([]float64, width*cn)
	for y, sp := range ys {
		for i := range acc {
			acc[i] = 0
		}
		for _, s := range sp {
			row := tmp[s.idx*width*cn : (s.idx+1)*width*cn]
			for i, v := range row {
				acc[i] += v * s.weight
			}
		}
		dst := out.Pix[y*width*cn : (y+1)*width*cn]
		for i, v := range acc {
			dst[i] = roundByte(v)
		}
	}
	return out
}

func resizeBilinear(f *Frame, width, height int) (*Frame, error) {
	src := f.Image()
	rect := image.Rect(0, 0, width, height)
	var dst draw.Image
	if f.Channels == 1 {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.BiLinear.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	return FromImage(dst)
}
