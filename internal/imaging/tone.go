package imaging

import "math"

// DefaultTargetBrightness is the mean intensity brightness normalisation aims for.
const DefaultTargetBrightness = 128

// brightness below this mean is treated as an all-black frame.
const minMeanBrightness = 1e-6

// NormalizeBrightness scales every sample by target/mean so the frame's mean
// intensity lands on target. An all-black frame is returned unchanged.
func NormalizeBrightness(f *Frame, target float64) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sum := 0.0
	for _, v := range f.Pix {
		sum += float64(v)
	}
	mean := sum / float64(len(f.Pix))
	if mean < minMeanBrightness {
		return f.Clone(), nil
	}

	gain := target / mean
	out := NewFrame(f.Width, f.Height, f.Channels)
	for i, v := range f.Pix {
		out.Pix[i] = clampByte(float64(v) * gain)
	}
	return out, nil
}

// ToneParams is the linear contrast/brightness enhancement out = alpha*in + beta.
type ToneParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// DefaultTone is the stand-alone contrast enhancement.
func DefaultTone() ToneParams { return ToneParams{Alpha: 1.2, Beta: 10} }

// CombinedTone is the gentler enhancement closing the combined pipeline.
func CombinedTone() ToneParams { return ToneParams{Alpha: 1.1, Beta: 5} }

// EnhanceContrast applies |alpha*in + beta| rounded and saturated to 8 bits.
func EnhanceContrast(f *Frame, p ToneParams) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var lut [256]uint8
	for i := range lut {
		lut[i] = roundByte(math.Abs(p.Alpha*float64(i) + p.Beta))
	}
	out := NewFrame(f.Width, f.Height, f.Channels)
	for i, v := range f.Pix {
		out.Pix[i] = lut[v]
	}
	return out, nil
}
