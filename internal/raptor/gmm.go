package raptor

import (
	"math"
	"math/rand"
)

// gmmModel is a diagonal-covariance Gaussian mixture. The clusterer only
// consumes soft posterior assignments, not exact density estimates, so
// diagonal covariance suffices; full-covariance EM would need a d×d
// inverse per component per iteration plus singularity regularization.
type gmmModel struct {
	weights []float64   // k
	means   [][]float64 // k x d
	vars    [][]float64 // k x d, diagonal covariance entries
}

const gmmVarFloor = 1e-6

// fitGMM runs expectation-maximization for a k-component diagonal GMM over
// X (n x d), seeded deterministically so repeated builds with the same
// inputs and seed are reproducible.
func fitGMM(X [][]float64, k int, seed int64) *gmmModel {
	n := len(X)
	d := len(X[0])
	if k > n {
		k = n
	}
	rng := rand.New(rand.NewSource(seed))

	m := initGMM(X, k, d, rng)

	const maxIter = 100
	const tol = 1e-4
	prevLL := math.Inf(-1)

	for iter := 0; iter < maxIter; iter++ {
		resp, ll := eStep(X, m)
		mStep(X, resp, m)
		if math.Abs(ll-prevLL) < tol {
			break
		}
		prevLL = ll
	}
	return m
}

// initGMM seeds means via a k-means++-style spread, uniform weights, and
// initial variances equal to the overall data spread per dimension (plus
// gmmVarFloor).
func initGMM(X [][]float64, k, d int, rng *rand.Rand) *gmmModel {
	m := &gmmModel{
		weights: make([]float64, k),
		means:   make([][]float64, k),
		vars:    make([][]float64, k),
	}

	globalVar := make([]float64, d)
	mean := make([]float64, d)
	for _, x := range X {
		for j := 0; j < d; j++ {
			mean[j] += x[j]
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}
	for _, x := range X {
		for j := 0; j < d; j++ {
			diff := x[j] - mean[j]
			globalVar[j] += diff * diff
		}
	}
	for j := range globalVar {
		globalVar[j] = globalVar[j]/n + gmmVarFloor
	}

	chosen := make(map[int]bool, k)
	first := rng.Intn(len(X))
	chosen[first] = true
	centers := []int{first}

	for len(centers) < k {
		// Pick the farthest remaining point from its nearest chosen center
		// (deterministic given the seed, not exact k-means++ weighting, but
		// spreads initial means enough to avoid collapsed components).
		best, bestDist := -1, -1.0
		for i := range X {
			if chosen[i] {
				continue
			}
			dmin := math.Inf(1)
			for _, c := range centers {
				dist := sqDist(X[i], X[c])
				if dist < dmin {
					dmin = dist
				}
			}
			if dmin > bestDist {
				bestDist = dmin
				best = i
			}
		}
		if best < 0 {
			break
		}
		chosen[best] = true
		centers = append(centers, best)
	}

	for i, c := range centers {
		m.weights[i] = 1.0 / float64(k)
		m.means[i] = append([]float64(nil), X[c]...)
		m.vars[i] = append([]float64(nil), globalVar...)
	}
	return m
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// eStep computes responsibilities (n x k posterior probabilities) and
// returns the total log-likelihood of X under m.
func eStep(X [][]float64, m *gmmModel) ([][]float64, float64) {
	n := len(X)
	k := len(m.weights)
	resp := make([][]float64, n)
	ll := 0.0

	for i, x := range X {
		logP := make([]float64, k)
		for c := 0; c < k; c++ {
			logP[c] = math.Log(m.weights[c]+1e-300) + logGaussian(x, m.means[c], m.vars[c])
		}
		maxLog := logP[0]
		for _, v := range logP[1:] {
			if v > maxLog {
				maxLog = v
			}
		}
		sum := 0.0
		for _, v := range logP {
			sum += math.Exp(v - maxLog)
		}
		logSum := maxLog + math.Log(sum)
		ll += logSum

		row := make([]float64, k)
		for c := 0; c < k; c++ {
			row[c] = math.Exp(logP[c] - logSum)
		}
		resp[i] = row
	}
	return resp, ll
}

func logGaussian(x, mean, variance []float64) float64 {
	d := len(x)
	logDet := 0.0
	quad := 0.0
	for j := 0; j < d; j++ {
		v := variance[j]
		if v < gmmVarFloor {
			v = gmmVarFloor
		}
		logDet += math.Log(v)
		diff := x[j] - mean[j]
		quad += diff * diff / v
	}
	return -0.5 * (float64(d)*math.Log(2*math.Pi) + logDet + quad)
}

// mStep updates m in place from the responsibilities.
func mStep(X [][]float64, resp [][]float64, m *gmmModel) {
	n := len(X)
	k := len(m.weights)
	d := len(X[0])

	nk := make([]float64, k)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			nk[c] += resp[i][c]
		}
	}

	newMeans := make([][]float64, k)
	for c := 0; c < k; c++ {
		newMeans[c] = make([]float64, d)
	}
	for i, x := range X {
		for c := 0; c < k; c++ {
			r := resp[i][c]
			for j := 0; j < d; j++ {
				newMeans[c][j] += r * x[j]
			}
		}
	}
	for c := 0; c < k; c++ {
		if nk[c] < 1e-8 {
			continue
		}
		for j := 0; j < d; j++ {
			newMeans[c][j] /= nk[c]
		}
	}

	newVars := make([][]float64, k)
	for c := 0; c < k; c++ {
		newVars[c] = make([]float64, d)
	}
	for i, x := range X {
		for c := 0; c < k; c++ {
			r := resp[i][c]
			for j := 0; j < d; j++ {
				diff := x[j] - newMeans[c][j]
				newVars[c][j] += r * diff * diff
			}
		}
	}
	for c := 0; c < k; c++ {
		if nk[c] < 1e-8 {
			// Starved component: keep its previous mean/variance rather
			// than producing NaNs.
			continue
		}
		for j := 0; j < d; j++ {
			v := newVars[c][j]/nk[c] + gmmVarFloor
			newVars[c][j] = v
		}
		m.means[c] = newMeans[c]
		m.vars[c] = newVars[c]
		m.weights[c] = nk[c] / float64(n)
	}

	// Renormalize weights in case of starved components.
	sum := 0.0
	for _, w := range m.weights {
		sum += w
	}
	if sum > 0 {
		for c := range m.weights {
			m.weights[c] /= sum
		}
	}
}

// bic computes the Bayesian Information Criterion for m over X:
// BIC = -2*logLikelihood + numParams*log(n).
func bic(X [][]float64, m *gmmModel) float64 {
	_, ll := eStep(X, m)
	n := len(X)
	d := len(X[0])
	k := len(m.weights)
	// Diagonal covariance: d means + d variances per component, plus
	// (k-1) free mixture weights.
	numParams := float64(k*(2*d) + (k - 1))
	return -2*ll + numParams*math.Log(float64(n))
}

// chooseKByBIC sweeps k over [1, min(maxK, n)] and returns the k minimizing
// BIC.
func chooseKByBIC(X [][]float64, maxK int, seed int64) int {
	n := len(X)
	ub := maxK
	if ub > n {
		ub = n
	}
	if ub < 1 {
		ub = 1
	}
	if ub <= 1 {
		return 1
	}

	bestK := 1
	bestBIC := math.Inf(1)
	for k := 1; k <= ub; k++ {
		m := fitGMM(X, k, seed)
		b := bic(X, m)
		if b < bestBIC {
			bestBIC = b
			bestK = k
		}
	}
	return bestK
}

// gmmSoftClusters chooses k by BIC, fits the final model, and returns the
// set of components each point is assigned to (posterior > threshold), with
// orphaned points (no component above threshold) assigned to their argmax
// component so no point is left unassigned.
func gmmSoftClusters(X [][]float64, threshold float64, maxK int, seed int64) ([][]int, int) {
	k := chooseKByBIC(X, maxK, seed)
	m := fitGMM(X, k, seed)
	resp, _ := eStep(X, m)

	labels := make([][]int, len(X))
	for i, row := range resp {
		var labs []int
		argmax, best := 0, row[0]
		for c, p := range row {
			if p > threshold {
				labs = append(labs, c)
			}
			if p > best {
				best = p
				argmax = c
			}
		}
		if len(labs) == 0 {
			labs = []int{argmax}
		}
		labels[i] = labs
	}
	return labels, k
}
