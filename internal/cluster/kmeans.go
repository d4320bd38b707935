// Package cluster groups composite reflectance samples into spectral
// classes: k-means over the band values, a PCA projection for
// visualization, and silhouette scoring for choosing k.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrBadInput is returned for empty or inconsistently shaped sample
// matrices.
var ErrBadInput = errors.New("invalid cluster input")

// Config controls the k-means run.
type Config struct {
	// MaxIter caps Lloyd iterations per restart; 0 means 300.
	MaxIter int

	// Restarts is the number of independent initializations; the run
	// with the lowest inertia wins. 0 means 10.
	Restarts int

	// Seed makes the run reproducible.
	Seed int64
}

// Result holds the best clustering found.
type Result struct {
	// Labels assigns each sample to a centroid index in [0, k).
	Labels []int

	// Centroids are the k cluster centers in feature space.
	Centroids [][]float64

	// Inertia is the sum of squared distances from each sample to its
	// centroid.
	Inertia float64
}

// KMeans clusters samples into k groups using Lloyd's algorithm with
// k-means++ seeding. Samples must all share one dimensionality.
func KMeans(samples [][]float64, k int, cfg Config) (*Result, error) {
	if err := validate(samples); err != nil {
		return nil, err
	}
	if k < 1 || k > len(samples) {
		return nil, fmt.Errorf("%w: k=%d with %d samples", ErrBadInput, k, len(samples))
	}

	maxIter := cfg.MaxIter
	if maxIter == 0 {
		maxIter = 300
	}
	restarts := cfg.Restarts
	if restarts == 0 {
		restarts = 10
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	var best *Result
	for r := 0; r < restarts; r++ {
		res := lloyd(samples, k, maxIter, rng)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

func lloyd(samples [][]float64, k, maxIter int, rng *rand.Rand) *Result {
	centroids := seedPlusPlus(samples, k, rng)
	labels := make([]int, len(samples))

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, s := range samples {
			l := nearest(centroids, s)
			if l != labels[i] {
				labels[i] = l
				changed = true
			}
		}

		recompute(centroids, samples, labels, rng)

		if !changed && iter > 0 {
			break
		}
	}

	inertia := 0.0
	for i, s := range samples {
		inertia += sqDist(s, centroids[labels[i]])
	}
	return &Result{Labels: labels, Centroids: centroids, Inertia: inertia}
}

// seedPlusPlus picks initial centroids with probability proportional to
// squared distance from the centroids already chosen.
func seedPlusPlus(samples [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := samples[rng.Intn(len(samples))]
	centroids = append(centroids, clone(first))

	dist := make([]float64, len(samples))
	for len(centroids) < k {
		total := 0.0
		for i, s := range samples {
			d := sqDist(s, centroids[0])
			for _, c := range centroids[1:] {
				if dc := sqDist(s, c); dc < d {
					d = dc
				}
			}
			dist[i] = d
			total += d
		}

		if total == 0 {
			// All remaining samples coincide with a centroid.
			centroids = append(centroids, clone(samples[rng.Intn(len(samples))]))
			continue
		}

		target := rng.Float64() * total
		idx := 0
		for i, d := range dist {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, clone(samples[idx]))
	}
	return centroids
}

// recompute moves each centroid to the mean of its members. An emptied
// centroid is respawned on a random sample.
func recompute(centroids [][]float64, samples [][]float64, labels []int, rng *rand.Rand) {
	dim := len(samples[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for i, s := range samples {
		l := labels[i]
		counts[l]++
		for j, v := range s {
			sums[l][j] += v
		}
	}

	for c := range centroids {
		if counts[c] == 0 {
			copy(centroids[c], samples[rng.Intn(len(samples))])
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func nearest(centroids [][]float64, s []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := sqDist(s, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clone(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func validate(samples [][]float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrBadInput)
	}
	dim := len(samples[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimensional samples", ErrBadInput)
	}
	for i, s := range samples {
		if len(s) != dim {
			return fmt.Errorf("%w: sample %d has %d features, want %d", ErrBadInput, i, len(s), dim)
		}
	}
	return nil
}
