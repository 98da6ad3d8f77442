package imaging

// Gray converts an RGB frame to luma (BT.601 weights). Single-channel frames
// are copied.
func Gray(f *Frame) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Channels == 1 {
		return f.Clone(), nil
	}
	out := NewFrame(f.Width, f.Height, 1)
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+1 {
		out.Pix[j] = luma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
	}
	return out, nil
}

func luma(r, g, b uint8) uint8 {
	return roundByte(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

// EqualizeGray performs global histogram equalisation on the luma plane and
// returns a single-channel frame.
func EqualizeGray(f *Frame) (*Frame, error) {
	gray, err := Gray(f)
	if err != nil {
		return nil, err
	}
	equalizePlane(gray.Pix, 1, 0)
	return gray, nil
}

// EqualizeColor equalises each colour channel independently. Single-channel
// frames are returned unchanged.
func EqualizeColor(f *Frame) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := f.Clone()
	if f.Channels != 3 {
		return out, nil
	}
	for c := 0; c < 3; c++ {
		equalizePlane(out.Pix, 3, c)
	}
	return out, nil
}

// equalizePlane equalises the samples pix[offset], pix[offset+stride], ... in place.
func equalizePlane(pix []uint8, stride, offset int) {
	var hist [256]int
	total := 0
	for i := offset; i < len(pix); i += stride {
		hist[pix[i]]++
		total++
	}

	first := 0
	for first < 256 && hist[first] == 0 {
		first++
	}
	// a constant plane has nothing to spread.
	if first == 256 || hist[first] == total {
		return
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = roundByte(float64(sum) * scale)
	}
	for i := offset; i < len(pix); i += stride {
		pix[i] = lut[pix[i]]
	}
}
