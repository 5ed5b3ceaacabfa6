// Package vector holds the similarity math shared by the classifier and the index.
package vector

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Vectors of different length are compared over the zero-padded longer length.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	// One square root keeps Cosine(v, v) exactly 1: sqrt(fl(x*x)) == x.
	sim := dot / math.Sqrt(na*nb)
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Fit returns v truncated or zero-padded to dim. The second result reports whether v was changed.
// dim <= 0 leaves v untouched.
func Fit(v []float32, dim int) ([]float32, bool) {
	if dim <= 0 || len(v) == dim {
		return v, false
	}
	if len(v) > dim {
		out := make([]float32, dim)
		copy(out, v[:dim])
		return out, true
	}
	out := make([]float32, dim)
	copy(out, v)
	return out, true
}

// Zero returns a zero vector of the given dimension.
func Zero(dim int) []float32 {
	if dim < 0 {
		dim = 0
	}
	return make([]float32, dim)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
