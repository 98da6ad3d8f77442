package imaging

import (
	"fmt"
	"math"
)

// BilateralParams configures the edge-preserving smoothing stage.
type BilateralParams struct {
	Diameter   int     `json:"diameter"`
	SigmaColor float64 `json:"sigma_color"`
	SigmaSpace float64 `json:"sigma_space"`
}

// DefaultBilateral 对应 9 像素窗口、颜色与空间 sigma 均为 75。
func DefaultBilateral() BilateralParams {
	return BilateralParams{Diameter: 9, SigmaColor: 75, SigmaSpace: 75}
}

// Denoise applies a bilateral filter: each output pixel is the average of its
// circular neighbourhood weighted by spatial distance and by colour distance
// (L1 across channels), so edges survive while flat regions are smoothed.
func Denoise(f *Frame, p BilateralParams) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if p.SigmaColor <= 0 {
		p.SigmaColor = 1
	}
	if p.SigmaSpace <= 0 {
		p.SigmaSpace = 1
	}
	radius := p.Diameter / 2
	if p.Diameter <= 0 {
		radius = int(math.Round(p.SigmaSpace * 1.5))
	}
	if radius < 1 {
		return f.Clone(), nil
	}
	if radius > 64 {
		return nil, fmt.Errorf("%w: bilateral diameter %d too large", ErrInvalidInput, p.Diameter)
	}

	cn := f.Channels
	colorCoeff := -0.5 / (p.SigmaColor * p.SigmaColor)
	spaceCoeff := -0.5 / (p.SigmaSpace * p.SigmaSpace)

	colorWeight := make([]float64, 256*cn)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	taps := make([]tap, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r * r * spaceCoeff)})
		}
	}

	out := NewFrame(f.Width, f.Height, cn)
	var sum [3]float64
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			center := f.Pix[f.offset(x, y):]
			wsum := 0.0
			sum[0], sum[1], sum[2] = 0, 0, 0
			for _, t := range taps {
				sx := reflect101(x+t.dx, f.Width)
				sy := reflect101(y+t.dy, f.Height)
				px := f.Pix[f.offset(sx, sy):]
				diff := 0
				for c := 0; c < cn; c++ {
					d := int(px[c]) - int(center[c])
					if d < 0 {
						d = -d
					}
					diff += d
				}
				w := t.w * colorWeight[diff]
				wsum += w
				for c := 0; c < cn; c++ {
					sum[c] += w * float64(px[c])
				}
			}
			di := out.offset(x, y)
			for c := 0; c < cn; c++ {
				out.Pix[di+c] = roundByte(sum[c] / wsum)
			}
		}
	}
	return out, nil
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}
