package cluster

import (
	"fmt"
	"math"
)

// Silhouette computes the mean silhouette coefficient over all samples:
// for each sample, (b-a)/max(a,b) where a is its mean distance to its
// own cluster and b the smallest mean distance to any other cluster.
// Scores near 1 indicate tight, well-separated clusters. Requires at
// least two clusters.
func Silhouette(samples [][]float64, labels []int) (float64, error) {
	if err := validate(samples); err != nil {
		return 0, err
	}
	if len(labels) != len(samples) {
		return 0, fmt.Errorf("%w: %d labels for %d samples", ErrBadInput, len(labels), len(samples))
	}

	k := 0
	for _, l := range labels {
		if l < 0 {
			return 0, fmt.Errorf("%w: negative label %d", ErrBadInput, l)
		}
		if l+1 > k {
			k = l + 1
		}
	}
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	// Empty clusters contribute no neighbors; the score is only defined
	// over clusters that actually hold samples.
	nonEmpty := 0
	for _, n := range counts {
		if n > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return 0, fmt.Errorf("%w: silhouette needs at least 2 non-empty clusters", ErrBadInput)
	}

	total := 0.0
	sums := make([]float64, k)
	for i, s := range samples {
		for c := range sums {
			sums[c] = 0
		}
		for j, other := range samples {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(s, other))
		}

		own := labels[i]
		var a float64
		if counts[own] > 1 {
			a = sums[own] / float64(counts[own]-1)
		}

		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if m := sums[c] / float64(counts[c]); m < b {
				b = m
			}
		}

		// A singleton cluster contributes 0 by convention.
		if counts[own] > 1 {
			total += (b - a) / math.Max(a, b)
		}
	}
	return total / float64(len(samples)), nil
}
