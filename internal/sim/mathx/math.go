package mathx

import "math"

func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}

// Finite reports whether x is neither NaN nor ±Inf.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func PosPart(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hashString(s string) uint64 {
	// FNV-1a, enough to spread country codes and stream names.
	h := uint64(0xcbf29ce484222325)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 0x100000001b3
	}
	return h
}

// Hash mixes a scenario seed, a turn, a country code and a stream name into
// a well-distributed 64-bit value. Same inputs always give the same output.
func Hash(seed int64, t int, code, stream string) uint64 {
	v := uint64(seed) ^ (uint64(uint32(int32(t))) * 0x9e3779b97f4a7c15)
	v ^= hashString(code) * 0xc2b2ae3d27d4eb4f
	v ^= hashString(stream) * 0xbf58476d1ce4e5b9
	return mix64(v)
}

// Unit returns a deterministic value in [0, 1).
func Unit(seed int64, t int, code, stream string) float64 {
	return float64(Hash(seed, t, code, stream)>>11) / float64(1<<53)
}

// Symmetric returns a deterministic value in [-1, 1).
func Symmetric(seed int64, t int, code, stream string) float64 {
	return 2*Unit(seed, t, code, stream) - 1
}
