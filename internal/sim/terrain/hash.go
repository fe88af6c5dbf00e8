package terrain

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash1(seed int64, x int) uint64 {
	ux := uint64(uint32(int32(x)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15))
}

func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// unit maps a hash to [0,1).
func unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}

func smoothstep(t float64) float64 { return t * t * (3 - 2*t) }

// ValueNoise1 is smoothed lattice noise over x with unit lattice spacing. Output is in [0,1).
func ValueNoise1(seed int64, x float64) float64 {
	x0 := int(x)
	if x < 0 && float64(x0) != x {
		x0--
	}
	t := smoothstep(x - float64(x0))
	a := unit(Hash1(seed, x0))
	b := unit(Hash1(seed, x0+1))
	return a + (b-a)*t
}

// Fractal1 sums octaves of ValueNoise1, normalised back to [0,1).
func Fractal1(seed int64, x float64, octaves int) float64 {
	if octaves <= 0 {
		octaves = 1
	}
	sum, amp, norm, freq := 0.0, 1.0, 0.0, 1.0
	for i := 0; i < octaves; i++ {
		sum += ValueNoise1(seed+int64(i)*7919, x*freq) * amp
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return sum / norm
}
