package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs is two well-separated point clouds in 2D.
func twoBlobs() [][]float64 {
	return [][]float64{
		{0.1, 0.1}, {0.12, 0.09}, {0.09, 0.11}, {0.11, 0.1},
		{0.9, 0.9}, {0.88, 0.91}, {0.91, 0.89}, {0.9, 0.92},
	}
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	samples := twoBlobs()
	res, err := KMeans(samples, 2, Config{Seed: 42})
	require.NoError(t, err)

	require.Len(t, res.Labels, len(samples))
	require.Len(t, res.Centroids, 2)

	// The first four samples land in one cluster, the last four in the
	// other.
	first := res.Labels[0]
	for i := 1; i < 4; i++ {
		assert.Equal(t, first, res.Labels[i])
	}
	second := res.Labels[4]
	assert.NotEqual(t, first, second)
	for i := 5; i < 8; i++ {
		assert.Equal(t, second, res.Labels[i])
	}

	assert.Less(t, res.Inertia, 0.01)
}

func TestKMeans_Deterministic(t *testing.T) {
	samples := twoBlobs()
	a, err := KMeans(samples, 2, Config{Seed: 7})
	require.NoError(t, err)
	b, err := KMeans(samples, 2, Config{Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
	assert.InDelta(t, a.Inertia, b.Inertia, 1e-12)
}

func TestKMeans_BadInput(t *testing.T) {
	_, err := KMeans(nil, 2, Config{})
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = KMeans([][]float64{{1, 2}, {1}}, 1, Config{})
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = KMeans([][]float64{{1, 2}}, 3, Config{})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestSilhouette_PrefersTrueK(t *testing.T) {
	samples := twoBlobs()

	good, err := KMeans(samples, 2, Config{Seed: 1})
	require.NoError(t, err)
	goodScore, err := Silhouette(samples, good.Labels)
	require.NoError(t, err)

	bad, err := KMeans(samples, 4, Config{Seed: 1})
	require.NoError(t, err)
	badScore, err := Silhouette(samples, bad.Labels)
	require.NoError(t, err)

	assert.Greater(t, goodScore, 0.8)
	assert.Greater(t, goodScore, badScore)
}

func TestSilhouette_SingleClusterRejected(t *testing.T) {
	samples := twoBlobs()
	labels := make([]int, len(samples))
	_, err := Silhouette(samples, labels)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestPCA_ProjectsAlongSeparation(t *testing.T) {
	samples := twoBlobs()
	projected, explained, err := PCA(samples, 2)
	require.NoError(t, err)

	require.Len(t, projected, len(samples))
	require.Len(t, projected[0], 2)
	require.Len(t, explained, 2)

	// The blobs are separated along one diagonal axis, so the first
	// component carries nearly all the variance.
	assert.Greater(t, explained[0], 0.95)
	assert.InDelta(t, 1.0, explained[0]+explained[1], 1e-9)

	// The two blobs stay separated in the first component.
	for i := 0; i < 4; i++ {
		for j := 4; j < 8; j++ {
			assert.Greater(t, math.Abs(projected[i][0]-projected[j][0]), 0.5)
		}
	}
}

func TestPCA_BadComponentCount(t *testing.T) {
	_, _, err := PCA(twoBlobs(), 3)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestSilhouette_EmptyClusterRejected(t *testing.T) {
	samples := twoBlobs()

	// Every sample in cluster 1, cluster 0 empty: one populated cluster.
	labels := make([]int, len(samples))
	for i := range labels {
		labels[i] = 1
	}

	_, err := Silhouette(samples, labels)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestPCA_ProjectionIsCentered(t *testing.T) {
	projected, _, err := PCA(twoBlobs(), 2)
	require.NoError(t, err)

	// Scores of mean-centered data average to zero per component.
	for c := 0; c < 2; c++ {
		sum := 0.0
		for _, p := range projected {
			sum += p[c]
		}
		assert.InDelta(t, 0, sum/float64(len(projected)), 1e-9)
	}
}
