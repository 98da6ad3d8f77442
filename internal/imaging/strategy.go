package imaging

import (
	"fmt"
	"strings"
)

// Strategy 选择预处理流水线。
type Strategy string

const (
	StrategyGrayscaleEqualization   Strategy = "grayscale_equalization"
	StrategyColorEqualization       Strategy = "color_equalization"
	StrategyCLAHE                   Strategy = "clahe"
	StrategyCLAHEColor              Strategy = "clahe_color"
	StrategyBrightnessNormalization Strategy = "brightness_normalization"
	StrategyContrastEnhancement     Strategy = "contrast_enhancement"
	StrategyCombined                Strategy = "combined"
)

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{
		StrategyGrayscaleEqualization,
		StrategyColorEqualization,
		StrategyCLAHE,
		StrategyCLAHEColor,
		StrategyBrightnessNormalization,
		StrategyContrastEnhancement,
		StrategyCombined,
	}
}

// ParseStrategy accepts the strategy names case-insensitively, with '-' or '_'.
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range Strategies() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown conditioning strategy %q", raw)
}

// Params carries every tunable of the pipeline.
type Params struct {
	TargetWidth      int             `json:"target_width"`
	TargetHeight     int             `json:"target_height"`
	Bilateral        BilateralParams `json:"bilateral"`
	CLAHE            CLAHEParams     `json:"clahe"`
	TargetBrightness float64         `json:"target_brightness"`
	Contrast         ToneParams      `json:"contrast"`
	CombinedContrast ToneParams      `json:"combined_contrast"`
}

// DefaultParams targets the 224×224 input of the face classifier.
func DefaultParams() Params {
	return Params{
		TargetWidth:      224,
		TargetHeight:     224,
		Bilateral:        DefaultBilateral(),
		CLAHE:            DefaultCLAHE(),
		TargetBrightness: DefaultTargetBrightness,
		Contrast:         DefaultTone(),
		CombinedContrast: CombinedTone(),
	}
}

type stage func(*Frame, Params) (*Frame, error)

func resizeStage(f *Frame, p Params) (*Frame, error) { return Resize(f, p.TargetWidth, p.TargetHeight) }
func denoiseStage(f *Frame, p Params) (*Frame, error) { return Denoise(f, p.Bilateral) }
func equalizeGrayStage(f *Frame, _ Params) (*Frame, error) { return EqualizeGray(f) }
func equalizeColorStage(f *Frame, _ Params) (*Frame, error) { return EqualizeColor(f) }
func claheGrayStage(f *Frame, p Params) (*Frame, error) { return CLAHEGray(f, p.CLAHE) }
func claheColorStage(f *Frame, p Params) (*Frame, error) { return CLAHEColor(f, p.CLAHE) }
func brightnessStage(f *Frame, p Params) (*Frame, error) {
	return NormalizeBrightness(f, p.TargetBrightness)
}
func contrastStage(f *Frame, p Params) (*Frame, error) { return EnhanceContrast(f, p.Contrast) }
func combinedContrastStage(f *Frame, p Params) (*Frame, error) {
	return EnhanceContrast(f, p.CombinedContrast)
}

// claheAutoStage picks the colour path for RGB frames and the luma path otherwise.
func claheAutoStage(f *Frame, p Params) (*Frame, error) {
	if f.Channels == 3 {
		return CLAHEColor(f, p.CLAHE)
	}
	return CLAHEGray(f, p.CLAHE)
}

var pipelines = map[Strategy][]stage{
	StrategyGrayscaleEqualization:   {resizeStage, denoiseStage, equalizeGrayStage},
	StrategyColorEqualization:       {resizeStage, denoiseStage, equalizeColorStage},
	StrategyCLAHE:                   {resizeStage, denoiseStage, claheGrayStage},
	StrategyCLAHEColor:              {resizeStage, denoiseStage, claheColorStage},
	StrategyBrightnessNormalization: {resizeStage, denoiseStage, brightnessStage},
	StrategyContrastEnhancement:     {resizeStage, denoiseStage, contrastStage},
	StrategyCombined: {
		resizeStage, denoiseStage, claheAutoStage, brightnessStage, combinedContrastStage,
	},
}

// Condition runs the pipeline selected by strategy. The input frame is never
// modified.
func Condition(f *Frame, strategy Strategy, p Params) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	stages, ok := pipelines[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}
	out := f
	for _, run := range stages {
		next, err := run(out, p)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}
