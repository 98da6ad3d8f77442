package imaging

import "math"

// 8-bit CIE L*a*b* (D65): L scaled to 0..255, a and b offset by 128.

const (
	whiteX = 0.950456
	whiteZ = 1.088754
	labEps = 0.008856
)

var srgbToLinear = func() [256]float64 {
	var t [256]float64
	for i := range t {
		v := float64(i) / 255
		if v <= 0.04045 {
			t[i] = v / 12.92
		} else {
			t[i] = math.Pow((v+0.055)/1.055, 2.4)
		}
	}
	return t
}()

func linearToSRGB(v float64) uint8 {
	if v <= 0.0031308 {
		v *= 12.92
	} else {
		v = 1.055*math.Pow(v, 1/2.4) - 0.055
	}
	return roundByte(v * 255)
}

func labF(t float64) float64 {
	if t > labEps {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116
}

func labFInv(t float64) float64 {
	if c := t * t * t; c > labEps {
		return c
	}
	return (t - 16.0/116) / 7.787
}

func rgbToLab(r, g, b uint8) (l, a, bb uint8) {
	rl, gl, bl := srgbToLinear[r], srgbToLinear[g], srgbToLinear[b]
	x := (0.412453*rl + 0.357580*gl + 0.180423*bl) / whiteX
	y := 0.212671*rl + 0.715160*gl + 0.072169*bl
	z := (0.019334*rl + 0.119193*gl + 0.950227*bl) / whiteZ

	fx, fy, fz := labF(x), labF(y), labF(z)
	var L float64
	if y > labEps {
		L = 116*fy - 16
	} else {
		L = 903.3 * y
	}
	return roundByte(L * 255 / 100), roundByte(500*(fx-fy) + 128), roundByte(200*(fy-fz) + 128)
}

func labToRGB(l, a, b uint8) (uint8, uint8, uint8) {
	L := float64(l) * 100 / 255
	fy := (L + 16) / 116
	fx := fy + (float64(a)-128)/500
	fz := fy - (float64(b)-128)/200

	var y float64
	if L > 903.3*labEps {
		y = fy * fy * fy
	} else {
		y = L / 903.3
	}
	x := labFInv(fx) * whiteX
	z := labFInv(fz) * whiteZ

	rl := 3.240479*x - 1.537150*y - 0.498535*z
	gl := -0.969256*x + 1.875992*y + 0.041556*z
	bl := 0.055648*x - 0.204043*y + 1.057311*z
	return linearToSRGB(rl), linearToSRGB(gl), linearToSRGB(bl)
}
