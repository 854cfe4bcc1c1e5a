package slowpath

import "math"

// Phi weights later stages higher in the global coherence.
const Phi = 1.618033988749895

// Converged reports whether the stage at idx ends the pipeline early: the
// last three coherences (idx-2..idx) have population variance below
// varianceThreshold and the latest exceeds high. It is false for idx < 2.
func Converged(coherences []float64, idx int, varianceThreshold, high float64) bool {
	if idx < 2 || idx >= len(coherences) {
		return false
	}
	window := coherences[idx-2 : idx+1]
	return variance(window) < varianceThreshold && window[2] > high
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / float64(len(xs))
}

// GlobalCoherence is the mean of the stage coherences weighted by Phi^i.
func GlobalCoherence(coherences []float64) float64 {
	if len(coherences) == 0 {
		return 0
	}
	var sum, weights float64
	for i, c := range coherences {
		w := math.Pow(Phi, float64(i))
		sum += c * w
		weights += w
	}
	return sum / weights
}
