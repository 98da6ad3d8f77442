package imaging

import (
	"fmt"
	"math"
)

// CLAHEParams bounds the local contrast enhancement. ClipLimit caps how far
// any histogram bin of a tile may rise above the uniform level (<= 0 disables
// clipping); TileGrid is the number of tiles along each axis.
type CLAHEParams struct {
	ClipLimit float64 `json:"clip_limit"`
	TileGrid  [2]int  `json:"tile_grid"`
}

// MaxTileGrid bounds each axis of the tile grid; every tile carries its own
// 256-entry lookup table.
const MaxTileGrid = 64

// DefaultCLAHE is clip limit 3.0 over an 8×8 grid.
func DefaultCLAHE() CLAHEParams {
	return CLAHEParams{ClipLimit: 3.0, TileGrid: [2]int{8, 8}}
}

// Validate rejects tile grids outside 1..MaxTileGrid on either axis.
func (p CLAHEParams) Validate() error {
	if p.TileGrid[0] <= 0 || p.TileGrid[1] <= 0 || p.TileGrid[0] > MaxTileGrid || p.TileGrid[1] > MaxTileGrid {
		return fmt.Errorf("%w: tile grid %dx%d", ErrInvalidInput, p.TileGrid[0], p.TileGrid[1])
	}
	if math.IsNaN(p.ClipLimit) || math.IsInf(p.ClipLimit, 0) {
		return fmt.Errorf("%w: clip limit %v", ErrInvalidInput, p.ClipLimit)
	}
	return nil
}

// CLAHEGray equalises the luma plane adaptively and returns a single-channel frame.
func CLAHEGray(f *Frame, p CLAHEParams) (*Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	gray, err := Gray(f)
	if err != nil {
		return nil, err
	}
	gray.Pix = clahePlane(gray.Pix, gray.Width, gray.Height, p)
	return gray, nil
}

// CLAHEColor equalises the lightness channel of L*a*b* and converts back to
// RGB, leaving chroma untouched. Single-channel frames are returned unchanged.
func CLAHEColor(f *Frame, p CLAHEParams) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if f.Channels != 3 {
		return f.Clone(), nil
	}

	n := f.Width * f.Height
	lPlane := make([]uint8, n)
	aPlane := make([]uint8, n)
	bPlane := make([]uint8, n)
	for i := 0; i < n; i++ {
		lPlane[i], aPlane[i], bPlane[i] = rgbToLab(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
	}

	lPlane = clahePlane(lPlane, f.Width, f.Height, p)

	out := NewFrame(f.Width, f.Height, 3)
	for i := 0; i < n; i++ {
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = labToRGB(lPlane[i], aPlane[i], bPlane[i])
	}
	return out, nil
}

// clahePlane returns the CLAHE-equalised copy of a width×height plane.
func clahePlane(src []uint8, width, height int, p CLAHEParams) []uint8 {
	tilesX, tilesY := p.TileGrid[0], p.TileGrid[1]

	// pad right/bottom so the plane splits into whole tiles.
	pw, ph := width, height
	if r := width % tilesX; r != 0 {
		pw += tilesX - r
	}
	if r := height % tilesY; r != 0 {
		ph += tilesY - r
	}
	padded := src
	if pw != width || ph != height {
		padded = make([]uint8, pw*ph)
		for y := 0; y < ph; y++ {
			sy := reflect101(y, height)
			for x := 0; x < pw; x++ {
				padded[y*pw+x] = src[sy*width+reflect101(x, width)]
			}
		}
	}

	tileW, tileH := pw/tilesX, ph/tilesY
	tileArea := tileW * tileH

	clip := 0
	if p.ClipLimit > 0 {
		clip = int(p.ClipLimit * float64(tileArea) / 256)
		if clip < 1 {
			clip = 1
		}
	}
	lutScale := 255.0 / float64(tileArea)

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			var hist [256]int
			for y := ty * tileH; y < (ty+1)*tileH; y++ {
				row := padded[y*pw+tx*tileW : y*pw+(tx+1)*tileW]
				for _, v := range row {
					hist[v]++
				}
			}
			if clip > 0 {
				clipHistogram(&hist, clip)
			}
			lut := &luts[ty*tilesX+tx]
			sum := 0
			for i := 0; i < 256; i++ {
				sum += hist[i]
				lut[i] = roundByte(float64(sum) * lutScale)
			}
		}
	}

	out := make([]uint8, width*height)
	invTW, invTH := 1/float64(tileW), 1/float64(tileH)
	for y := 0; y < height; y++ {
		tyf := float64(y)*invTH - 0.5
		ty1 := int(math.Floor(tyf))
		ty2 := ty1 + 1
		ya := tyf - float64(ty1)
		ty1 = max(ty1, 0)
		ty2 = min(ty2, tilesY-1)
		for x := 0; x < width; x++ {
			txf := float64(x)*invTW - 0.5
			tx1 := int(math.Floor(txf))
			tx2 := tx1 + 1
			xa := txf - float64(tx1)
			tx1 = max(tx1, 0)
			tx2 = min(tx2, tilesX-1)

			v := src[y*width+x]
			top := float64(luts[ty1*tilesX+tx1][v])*(1-xa) + float64(luts[ty1*tilesX+tx2][v])*xa
			bottom := float64(luts[ty2*tilesX+tx1][v])*(1-xa) + float64(luts[ty2*tilesX+tx2][v])*xa
			out[y*width+x] = roundByte(top*(1-ya) + bottom*ya)
		}
	}
	return out
}

// clipHistogram caps every bin at limit and spreads the excess evenly.
func clipHistogram(hist *[256]int, limit int) {
	clipped := 0
	for i := range hist {
		if hist[i] > limit {
			clipped += hist[i] - limit
			hist[i] = limit
		}
	}
	batch := clipped / 256
	residual := clipped - batch*256
	for i := range hist {
		hist[i] += batch
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}
}
