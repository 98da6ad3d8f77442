// Package imaging conditions camera frames before they reach the face
// classifier: resize, edge-preserving denoise and contrast/illumination
// normalisation, composed into named strategies.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ErrInvalidInput 表示帧为空、面积为零或像素缓冲区与尺寸不符。
var ErrInvalidInput = errors.New("invalid input frame")

// Frame is an interleaved 8-bit pixel grid. Channels is 1 (luma) or 3 (RGB).
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Validate reports ErrInvalidInput for malformed frames.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidInput)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: zero-area frame %dx%d", ErrInvalidInput, f.Width, f.Height)
	}
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidInput, f.Channels)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return fmt.Errorf("%w: pixel buffer has %d bytes, want %d", ErrInvalidInput, len(f.Pix), f.Width*f.Height*f.Channels)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{Width: f.Width, Height: f.Height, Channels: f.Channels, Pix: make([]uint8, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

func (f *Frame) offset(x, y int) int {
	return (y*f.Width + x) * f.Channels
}

// FromImage converts any decoded image into an RGB frame.
func FromImage(img image.Image) (*Frame, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidInput)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-area image", ErrInvalidInput)
	}

	if g, ok := img.(*image.Gray); ok {
		out := NewFrame(b.Dx(), b.Dy(), 1)
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*b.Dx():(y+1)*b.Dx()], g.Pix[y*g.Stride:y*g.Stride+b.Dx()])
		}
		return out, nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	out := NewFrame(b.Dx(), b.Dy(), 3)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			si := y*rgba.Stride + x*4
			di := out.offset(x, y)
			out.Pix[di] = rgba.Pix[si]
			out.Pix[di+1] = rgba.Pix[si+1]
			out.Pix[di+2] = rgba.Pix[si+2]
		}
	}
	return out, nil
}

// Image returns an *image.Gray for single-channel frames and an opaque
// *image.RGBA otherwise.
func (f *Frame) Image() image.Image {
	if f.Channels == 1 {
		g := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		copy(g.Pix, f.Pix)
		return g
	}
	rgba := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		rgba.Pix[j] = f.Pix[i]
		rgba.Pix[j+1] = f.Pix[i+1]
		rgba.Pix[j+2] = f.Pix[i+2]
		rgba.Pix[j+3] = 0xff
	}
	return rgba
}

// DefaultMaxPixels is the decode limit used by Decode (4096×4096).
const DefaultMaxPixels = 4096 * 4096

// Decode parses an encoded still image (JPEG, PNG, GIF or WebP) of at most
// DefaultMaxPixels pixels.
func Decode(data []byte) (*Frame, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited is Decode with an explicit pixel limit. The header is checked
// before any pixel buffer is allocated; maxPixels <= 0 uses DefaultMaxPixels.
func DecodeLimited(data []byte, maxPixels int) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrInvalidInput)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image header: %v", ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: image %dx%d exceeds %d pixels", ErrInvalidInput, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}
	return FromImage(img)
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

func roundByte(v float64) uint8 {
	return clampByte(v + 0.5)
}
