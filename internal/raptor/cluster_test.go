package raptor

import (
	"reflect"
	"testing"
)

func testClusterer() *Clusterer {
	p := DefaultBuildParams()
	return NewClusterer(p)
}

func TestFitPredictEmptyInput(t *testing.T) {
	if got := testClusterer().FitPredict(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

// TestFitPredictSmallInputsCollapseToOneGroup: with three or fewer points
// (or no more points than min_k), clustering is pointless and the output is
// exactly one group holding every index.
func TestFitPredictSmallInputsCollapseToOneGroup(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		vecs := make([][]float64, n)
		for i := range vecs {
			vecs[i] = []float64{float64(i), 0, 0, 0}
		}
		groups := testClusterer().FitPredict(vecs)
		if len(groups) != 1 {
			t.Fatalf("n=%d: expected 1 group, got %d", n, len(groups))
		}
		if len(groups[0]) != n {
			t.Fatalf("n=%d: expected the group to hold all points, got %v", n, groups[0])
		}
	}
}

// twoClusterVectors returns n points split between two tight clusters near
// [1,0,0,0] and [0,1,0,0], with small deterministic offsets so no two points
// are identical.
func twoClusterVectors(n int) [][]float64 {
	vecs := make([][]float64, n)
	for i := range vecs {
		off := 0.01 * float64(i+1)
		if i < n/2 {
			vecs[i] = []float64{1 + off, off, 0, 0}
		} else {
			vecs[i] = []float64{off, 1 + off, 0, 0}
		}
	}
	return vecs
}

// TestFitPredictCoverage: every input index appears in at least one output
// group and no group is empty, regardless of how many clusters the model
// selection settles on.
func TestFitPredictCoverage(t *testing.T) {
	vecs := twoClusterVectors(10)
	groups := testClusterer().FitPredict(vecs)

	if len(groups) == 0 {
		t.Fatalf("expected at least one group")
	}
	covered := make(map[int]bool)
	for gi, g := range groups {
		if len(g) == 0 {
			t.Fatalf("group %d is empty", gi)
		}
		for _, idx := range g {
			if idx < 0 || idx >= len(vecs) {
				t.Fatalf("group %d contains out-of-range index %d", gi, idx)
			}
			covered[idx] = true
		}
	}
	for i := range vecs {
		if !covered[i] {
			t.Fatalf("point %d not covered by any group", i)
		}
	}
}

// TestFitPredictTwoObviousClusters: with max_k capped at 2 and two
// well-separated tight clusters, model selection must split them rather
// than merge everything into one component.
func TestFitPredictTwoObviousClusters(t *testing.T) {
	c := testClusterer()
	c.MaxK = 2

	vecs := twoClusterVectors(10)
	groups := c.FitPredict(vecs)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(groups), groups)
	}

	// Each group should be homogeneous: all members from one side of the
	// split (indices 0-4 vs 5-9).
	for gi, g := range groups {
		firstHalf := g[0] < 5
		for _, idx := range g {
			if (idx < 5) != firstHalf {
				t.Fatalf("group %d mixes the two clusters: %v", gi, g)
			}
		}
	}
}

// TestFitPredictDeterministicWithFixedSeed: repeated runs over identical
// input must produce identical groupings, since every stochastic step is
// threaded through the configured seed.
func TestFitPredictDeterministicWithFixedSeed(t *testing.T) {
	vecs := twoClusterVectors(12)
	a := testClusterer().FitPredict(vecs)
	b := testClusterer().FitPredict(vecs)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical groupings across runs, got %v then %v", a, b)
	}
}
