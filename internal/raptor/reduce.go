package raptor

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// reduceDims projects X (n x d) onto nComponents principal components via
// gonum's stat.PC, which computes them by singular value decomposition. PCA stands in for a
// nonlinear manifold reduction (UMAP) ahead of GMM clustering: no Go UMAP
// implementation with a maintained API exists. nNeighbors is accepted so
// callers can keep the neighbor-count formulas of a manifold reducer, but
// a linear projection has no use for it.
func reduceDims(X [][]float64, nComponents, nNeighbors int) [][]float64 {
	n := len(X)
	if n == 0 {
		return nil
	}
	d := len(X[0])
	if nComponents >= d {
		out := make([][]float64, n)
		for i := range X {
			out[i] = append([]float64(nil), X[i]...)
		}
		return out
	}
	if nComponents < 1 {
		nComponents = 1
	}

	flat := make([]float64, n*d)
	for i, row := range X {
		copy(flat[i*d:(i+1)*d], row)
	}
	data := mat.NewDense(n, d, flat)

	var pc stat.PC
	ok := pc.PrincipalComponents(data, nil)
	if !ok {
		// Degenerate input (e.g. all-identical rows): fall back to a
		// zero-padded truncation rather than failing the build.
		out := make([][]float64, n)
		for i, row := range X {
			r := make([]float64, nComponents)
			copy(r, row)
			out[i] = r
		}
		return out
	}

	var proj mat.Dense
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	k := nComponents
	if k > vecs.RawMatrix().Cols {
		k = vecs.RawMatrix().Cols
	}
	components := vecs.Slice(0, d, 0, k)
	proj.Mul(data, components)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		for j := 0; j < k; j++ {
			row[j] = proj.At(i, j)
		}
		out[i] = row
	}
	return out
}
