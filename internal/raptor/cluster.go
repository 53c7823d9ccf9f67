package raptor

import "math"

// Clusterer groups a level's vectors into overlapping (soft) clusters via a
// two-stage reduce+GMM pipeline: a global pass partitions the whole set,
// then each non-trivial global partition is reduced and clustered again
// locally. Every point belongs to at least one returned group.
type Clusterer struct {
	MinK         int
	MaxK         int
	ReductionDim int
	Threshold    float64
	Seed         int64
}

// NewClusterer builds a Clusterer from build parameters.
func NewClusterer(p BuildParams) *Clusterer {
	return &Clusterer{
		MinK:         p.MinK,
		MaxK:         p.MaxK,
		ReductionDim: p.ReductionDim,
		Threshold:    p.Threshold,
		Seed:         p.RandomState,
	}
}

// FitPredict returns the list of clusters, each a list of indices into
// vectors. A point may appear in more than one cluster.
func (c *Clusterer) FitPredict(vectors [][]float64) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if n <= c.MinK || n <= 3 {
		return [][]int{allIndices(n)}
	}

	globalComponents := reductionComponents(c.ReductionDim, n)
	globalNeighbors := globalNNeighbors(n)
	globalReduced := reduceDims(vectors, globalComponents, globalNeighbors)

	globalLabels, _ := gmmSoftClusters(globalReduced, c.Threshold, c.MaxK, c.Seed)
	globalGroups := invertLabels(globalLabels)

	groups := map[int][]int{}
	totalLocalClusters := 0

	// Iterate global groups in a stable order (ascending global cluster id)
	// so results are deterministic given a fixed seed.
	for _, memberIdx := range orderedGroups(globalGroups) {
		if len(memberIdx) <= c.ReductionDim+1 {
			groups[totalLocalClusters] = append([]int(nil), memberIdx...)
			totalLocalClusters++
			continue
		}

		subVectors := make([][]float64, len(memberIdx))
		for i, idx := range memberIdx {
			subVectors[i] = vectors[idx]
		}

		localComponents := reductionComponents(c.ReductionDim, len(memberIdx))
		localNeighbors := localNNeighbors(len(memberIdx), 10)
		localReduced := reduceDims(subVectors, localComponents, localNeighbors)

		localLabels, k := gmmSoftClusters(localReduced, c.Threshold, c.MaxK, c.Seed)
		for i, labs := range localLabels {
			origIdx := memberIdx[i]
			for _, lc := range labs {
				gid := totalLocalClusters + lc
				groups[gid] = append(groups[gid], origIdx)
			}
		}
		totalLocalClusters += k
	}

	if totalLocalClusters == 0 {
		return [][]int{allIndices(n)}
	}

	out := make([][]int, 0, len(groups))
	for gid := 0; gid < totalLocalClusters; gid++ {
		if members, ok := groups[gid]; ok && len(members) > 0 {
			out = append(out, members)
		}
	}
	return out
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// reductionComponents mirrors umap_reduce's component-count rule:
// max(1, min(dim, n-2)).
func reductionComponents(dim, n int) int {
	c := dim
	if n-2 < c {
		c = n - 2
	}
	if c < 1 {
		c = 1
	}
	return c
}

// globalNNeighbors mirrors the global branch of umap_reduce:
// int(sqrt(n-1)), or 2 if that rounds to zero.
func globalNNeighbors(n int) int {
	v := int(math.Sqrt(float64(n - 1)))
	if v == 0 {
		return 2
	}
	return v
}

// localNNeighbors mirrors the local branch: min(requested or 10, n-1).
func localNNeighbors(n, requested int) int {
	if requested <= 0 {
		requested = 10
	}
	if requested > n-1 {
		return n - 1
	}
	return requested
}

// invertLabels turns a per-point list of cluster ids into per-cluster lists
// of point indices.
func invertLabels(labels [][]int) map[int][]int {
	groups := map[int][]int{}
	for i, labs := range labels {
		for _, l := range labs {
			groups[l] = append(groups[l], i)
		}
	}
	return groups
}

// orderedGroups returns groups' member-index slices sorted by ascending
// cluster id, for deterministic iteration order.
func orderedGroups(groups map[int][]int) [][]int {
	maxID := -1
	for id := range groups {
		if id > maxID {
			maxID = id
		}
	}
	out := make([][]int, 0, len(groups))
	for id := 0; id <= maxID; id++ {
		if members, ok := groups[id]; ok {
			out = append(out, members)
		}
	}
	return out
}
