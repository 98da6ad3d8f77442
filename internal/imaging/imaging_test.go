package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisyFrame(w, h, channels int, seed int64) *Frame {
	rng := rand.New(rand.NewSource(seed))
	f := NewFrame(w, h, channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (x*200/w + y*40/h)
			for c := 0; c < channels; c++ {
				v := base + rng.Intn(30) + c*5
				if v > 255 {
					v = 255
				}
				f.Pix[f.offset(x, y)+c] = uint8(v)
			}
		}
	}
	return f
}

func TestConditionRejectsMalformedFrames(t *testing.T) {
	p := DefaultParams()
	cases := map[string]*Frame{
		"nil":       nil,
		"zero area": {Width: 0, Height: 10, Channels: 3},
		"mismatch":  {Width: 2, Height: 2, Channels: 3, Pix: make([]uint8, 5)},
		"channels":  {Width: 1, Height: 1, Channels: 2, Pix: make([]uint8, 2)},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Condition(f, StrategyCombined, p)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestConditionUnknownStrategy(t *testing.T) {
	_, err := Condition(noisyFrame(8, 8, 3, 1), Strategy("sepia"), DefaultParams())
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestConditionOutputMatchesTargetForEveryStrategy(t *testing.T) {
	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 48, 40
	inputs := []*Frame{
		noisyFrame(160, 120, 3, 1), // shrink
		noisyFrame(20, 30, 3, 2),   // enlarge
		noisyFrame(100, 20, 1, 3),  // mixed, single channel
	}
	for _, s := range Strategies() {
		for _, in := range inputs {
			out, err := Condition(in, s, p)
			require.NoError(t, err, "strategy %s", s)
			assert.Equal(t, 48, out.Width, "strategy %s", s)
			assert.Equal(t, 40, out.Height, "strategy %s", s)
			require.NoError(t, out.Validate())
		}
	}
}

func TestGrayStrategiesEmitSingleChannel(t *testing.T) {
	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 32, 32
	in := noisyFrame(64, 64, 3, 4)
	for _, s := range []Strategy{StrategyGrayscaleEqualization, StrategyCLAHE} {
		out, err := Condition(in, s, p)
		require.NoError(t, err)
		assert.Equal(t, 1, out.Channels, "strategy %s", s)
	}
	out, err := Condition(in, StrategyCombined, p)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Channels)
}

func TestConditionDoesNotModifyInput(t *testing.T) {
	in := noisyFrame(50, 50, 3, 5)
	before := append([]uint8(nil), in.Pix...)
	_, err := Condition(in, StrategyCombined, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, before, in.Pix)
}

func TestNormalizeBrightnessAllBlackUnchanged(t *testing.T) {
	black := NewFrame(16, 16, 3)
	out, err := NormalizeBrightness(black, DefaultTargetBrightness)
	require.NoError(t, err)
	assert.Equal(t, black.Pix, out.Pix)

	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 16, 16
	out, err = Condition(black, StrategyBrightnessNormalization, p)
	require.NoError(t, err)
	assert.Equal(t, black.Pix, out.Pix)
}

func TestNormalizeBrightnessHitsTargetMean(t *testing.T) {
	f := NewFrame(4, 4, 1)
	for i := range f.Pix {
		f.Pix[i] = 64
	}
	out, err := NormalizeBrightness(f, 128)
	require.NoError(t, err)
	for _, v := range out.Pix {
		assert.Equal(t, uint8(128), v)
	}
}

func TestNormalizeBrightnessClamps(t *testing.T) {
	f := NewFrame(2, 1, 1)
	f.Pix[0], f.Pix[1] = 10, 200 // mean 105
	out, err := NormalizeBrightness(f, 250)
	require.NoError(t, err)
	assert.Equal(t, uint8(23), out.Pix[0])
	assert.Equal(t, uint8(255), out.Pix[1])
}

func TestEnhanceContrastLinear(t *testing.T) {
	f := NewFrame(3, 1, 1)
	f.Pix[0], f.Pix[1], f.Pix[2] = 0, 100, 250
	out, err := EnhanceContrast(f, DefaultTone())
	require.NoError(t, err)
	assert.Equal(t, []uint8{10, 130, 255}, out.Pix)
}

func TestResizeAreaAveragesBlocks(t *testing.T) {
	f := NewFrame(4, 2, 1)
	copy(f.Pix, []uint8{
		0, 10, 100, 100,
		20, 30, 200, 0,
	})
	out, err := Resize(f, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint8{15, 100}, out.Pix)
}

func TestResizeAreaFractionalCoverage(t *testing.T) {
	f := NewFrame(3, 1, 1)
	copy(f.Pix, []uint8{0, 90, 180})
	out, err := Resize(f, 2, 1)
	require.NoError(t, err)
	// each destination pixel covers 1.5 source pixels.
	assert.Equal(t, []uint8{30, 150}, out.Pix)
}

func TestResizeEnlargeKeepsChannels(t *testing.T) {
	out, err := Resize(noisyFrame(3, 2, 3, 6), 9, 7)
	require.NoError(t, err)
	assert.Equal(t, 9, out.Width)
	assert.Equal(t, 7, out.Height)
	assert.Equal(t, 3, out.Channels)
}

func TestDenoiseKeepsFlatFrameFlat(t *testing.T) {
	f := NewFrame(12, 12, 3)
	for i := range f.Pix {
		f.Pix[i] = 77
	}
	out, err := Denoise(f, DefaultBilateral())
	require.NoError(t, err)
	assert.Equal(t, f.Pix, out.Pix)
}

func TestDenoisePreservesStrongEdge(t *testing.T) {
	f := NewFrame(10, 4, 1)
	for y := 0; y < 4; y++ {
		for x := 0; x < 10; x++ {
			if x >= 5 {
				f.Pix[y*10+x] = 250
			}
		}
	}
	out, err := Denoise(f, BilateralParams{Diameter: 9, SigmaColor: 10, SigmaSpace: 75})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.Pix[4])
	assert.Equal(t, uint8(250), out.Pix[5])
}

func TestEqualizeGraySpreadsTwoLevels(t *testing.T) {
	f := NewFrame(2, 2, 1)
	copy(f.Pix, []uint8{40, 40, 90, 90})
	out, err := EqualizeGray(f)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 255, 255}, out.Pix)
}

func TestEqualizeColorLeavesGrayUntouched(t *testing.T) {
	f := noisyFrame(5, 5, 1, 7)
	out, err := EqualizeColor(f)
	require.NoError(t, err)
	assert.Equal(t, f.Pix, out.Pix)
}

func TestCLAHEColorLeavesGrayUntouched(t *testing.T) {
	f := noisyFrame(5, 5, 1, 8)
	out, err := CLAHEColor(f, DefaultCLAHE())
	require.NoError(t, err)
	assert.Equal(t, f.Pix, out.Pix)
}

func TestCLAHEHandlesGridLargerThanFrame(t *testing.T) {
	out, err := CLAHEGray(noisyFrame(5, 3, 3, 9), DefaultCLAHE())
	require.NoError(t, err)
	assert.Equal(t, 5, out.Width)
	assert.Equal(t, 3, out.Height)
}

func TestCLAHERejectsBadGrid(t *testing.T) {
	_, err := CLAHEGray(noisyFrame(8, 8, 1, 10), CLAHEParams{ClipLimit: 2, TileGrid: [2]int{0, 8}})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCLAHERejectsOversizedGrid(t *testing.T) {
	require.NoError(t, CLAHEParams{ClipLimit: 2, TileGrid: [2]int{MaxTileGrid, MaxTileGrid}}.Validate())
	require.ErrorIs(t, CLAHEParams{ClipLimit: 2, TileGrid: [2]int{MaxTileGrid + 1, 8}}.Validate(), ErrInvalidInput)
	require.ErrorIs(t, CLAHEParams{ClipLimit: 2, TileGrid: [2]int{8, 100000}}.Validate(), ErrInvalidInput)

	c, err := NewConditioner(StrategyCLAHE, DefaultParams())
	require.NoError(t, err)
	require.Error(t, c.SetCLAHE(CLAHEParams{ClipLimit: 3, TileGrid: [2]int{100000, 100000}}))
	assert.Equal(t, DefaultCLAHE(), c.Settings().Params.CLAHE)
}

func TestClipHistogramConservesMass(t *testing.T) {
	var hist [256]int
	hist[10] = 900
	hist[200] = 100
	clipHistogram(&hist, 50)
	total := 0
	for _, v := range hist {
		total += v
	}
	assert.Equal(t, 1000, total)
	assert.LessOrEqual(t, hist[10], 50+4)
}

func TestLabRoundTrip(t *testing.T) {
	colors := [][3]uint8{{0, 0, 0}, {255, 255, 255}, {200, 30, 40}, {20, 180, 90}, {60, 60, 220}, {128, 128, 128}}
	for _, c := range colors {
		l, a, b := rgbToLab(c[0], c[1], c[2])
		r, g, bb := labToRGB(l, a, b)
		assert.InDelta(t, float64(c[0]), float64(r), 4, "rgb %v", c)
		assert.InDelta(t, float64(c[1]), float64(g), 4, "rgb %v", c)
		assert.InDelta(t, float64(c[2]), float64(bb), 4, "rgb %v", c)
	}
}

func TestConditionerCLAHEChangeAffectsNextCallOnly(t *testing.T) {
	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 64, 64
	c, err := NewConditioner(StrategyCLAHE, p)
	require.NoError(t, err)

	in := noisyFrame(96, 96, 3, 11)
	first, used, err := c.Condition(in)
	require.NoError(t, err)
	assert.Equal(t, 3.0, used.Params.CLAHE.ClipLimit)
	saved := append([]uint8(nil), first.Pix...)

	require.NoError(t, c.SetCLAHE(CLAHEParams{ClipLimit: 40, TileGrid: [2]int{2, 2}}))

	second, used, err := c.Condition(in)
	require.NoError(t, err)
	assert.Equal(t, 40.0, used.Params.CLAHE.ClipLimit)
	assert.Equal(t, saved, first.Pix, "earlier output must not change")

	p.CLAHE = CLAHEParams{ClipLimit: 40, TileGrid: [2]int{2, 2}}
	want, err := Condition(in, StrategyCLAHE, p)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, second.Pix)
	assert.NotEqual(t, saved, second.Pix)
}

func TestConditionerRejectsInvalidUpdates(t *testing.T) {
	c, err := NewConditioner(StrategyCombined, DefaultParams())
	require.NoError(t, err)
	require.Error(t, c.SetCLAHE(CLAHEParams{ClipLimit: 2, TileGrid: [2]int{-1, 1}}))
	require.Error(t, c.SetStrategy("nope"))
	assert.Equal(t, StrategyCombined, c.Settings().Strategy)
	assert.Equal(t, DefaultCLAHE(), c.Settings().Params.CLAHE)
}

func TestConditionerStoresCanonicalStrategy(t *testing.T) {
	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 16, 16
	c, err := NewConditioner("Combined", p)
	require.NoError(t, err)
	assert.Equal(t, StrategyCombined, c.Settings().Strategy)

	require.NoError(t, c.SetStrategy("CLAHE"))
	assert.Equal(t, StrategyCLAHE, c.Settings().Strategy)

	out, used, err := c.Condition(noisyFrame(20, 20, 3, 21))
	require.NoError(t, err)
	assert.Equal(t, StrategyCLAHE, used.Strategy)
	assert.Equal(t, 1, out.Channels)
}

func TestConditionerConcurrentUse(t *testing.T) {
	p := DefaultParams()
	p.TargetWidth, p.TargetHeight = 24, 24
	c, err := NewConditioner(StrategyCombined, p)
	require.NoError(t, err)
	in := noisyFrame(40, 40, 3, 12)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = c.SetCLAHE(CLAHEParams{ClipLimit: float64(i + 1), TileGrid: [2]int{4, 4}})
				return
			}
			out, _, err := c.Condition(in)
			assert.NoError(t, err)
			assert.Equal(t, 24, out.Width)
		}(i)
	}
	wg.Wait()
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("CLAHE-Color")
	require.NoError(t, err)
	assert.Equal(t, StrategyCLAHEColor, s)
	_, err = ParseStrategy("")
	require.Error(t, err)
}

func TestDecodePNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	img.Set(1, 1, color.NRGBA{R: 200, G: 10, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	f, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 6, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Equal(t, 3, f.Channels)
	assert.Equal(t, []uint8{200, 10, 20}, f.Pix[f.offset(1, 1):f.offset(1, 1)+3])
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = Decode(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

// pngHeader returns a PNG whose header declares width×height and carries no
// pixel data.
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	_, err := Decode(pngHeader(30000, 30000))
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "exceeds")

	img := image.NewGray(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	_, err = DecodeLimited(buf.Bytes(), 1000)
	require.ErrorIs(t, err, ErrInvalidInput)

	f, err := DecodeLimited(buf.Bytes(), 64*64)
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width)
}

func TestFrameImageRoundTrip(t *testing.T) {
	f := noisyFrame(7, 5, 3, 13)
	back, err := FromImage(f.Image())
	require.NoError(t, err)
	assert.Equal(t, f.Pix, back.Pix)

	g := noisyFrame(7, 5, 1, 14)
	back, err = FromImage(g.Image())
	require.NoError(t, err)
	assert.Equal(t, 1, back.Channels)
	assert.Equal(t, g.Pix, back.Pix)
}
