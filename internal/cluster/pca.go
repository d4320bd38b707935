package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects samples onto their first n principal components and
// reports the proportion of variance each component explains. Used to
// plot the spectral classes in two dimensions.
func PCA(samples [][]float64, components int) (projected [][]float64, explained []float64, err error) {
	if err := validate(samples); err != nil {
		return nil, nil, err
	}
	dim := len(samples[0])
	if components < 1 || components > dim {
		return nil, nil, fmt.Errorf("%w: %d components from %d features", ErrBadInput, components, dim)
	}

	m := mat.NewDense(len(samples), dim, nil)
	for i, s := range samples {
		m.SetRow(i, s)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(m, nil); !ok {
		return nil, nil, fmt.Errorf("%w: principal component decomposition failed", ErrBadInput)
	}

	var vectors mat.Dense
	pc.VectorsTo(&vectors)

	// The component directions come from mean-centered data, so the
	// samples must be centered the same way before projection.
	means := make([]float64, dim)
	for _, s := range samples {
		for j, v := range s {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(samples))
	}
	centered := mat.NewDense(len(samples), dim, nil)
	for i, s := range samples {
		for j, v := range s {
			centered.Set(i, j, v-means[j])
		}
	}

	var proj mat.Dense
	proj.Mul(centered, vectors.Slice(0, dim, 0, components))

	projected = make([][]float64, len(samples))
	for i := range projected {
		projected[i] = clone(proj.RawRowView(i))
	}

	vars := pc.VarsTo(nil)
	total := 0.0
	for _, v := range vars {
		total += v
	}
	explained = make([]float64, components)
	if total > 0 {
		for i := range explained {
			explained[i] = vars[i] / total
		}
	}
	return projected, explained, nil
}
