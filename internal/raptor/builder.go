package raptor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"raptorengine/internal/errs"
)

// TreePersistence is the capability set RaptorBuilder depends on for
// durable storage: create the tree row, then group each level's writes
// into one transaction. Concrete implementation lives in internal/store;
// the orchestrator depends only on this interface, per the
// polymorphic-provider design note.
type TreePersistence interface {
	CreateTree(ctx context.Context, docID, datasetID string, params BuildParams) (string, error)
	WithLevelTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
	AddNodes(ctx context.Context, db bun.IDB, treeID string, nodes []Node) error
	AddEdges(ctx context.Context, db bun.IDB, treeID string, edges []Edge) error
	LinkNodeChunks(ctx context.Context, db bun.IDB, treeID string, links []NodeChunkLink) error
	BulkUpsertEmbeddings(ctx context.Context, db bun.IDB, rows []Embedding) error
}

// LevelEmbedder is the narrow embedding capability the builder's pacer step
// needs: batch-embed a level's freshly produced summaries as documents.
type LevelEmbedder interface {
	EmbedDocs(ctx context.Context, texts []string) ([][]float32, error)
}

// RaptorBuilder orchestrates the recursive cluster -> summarize -> embed ->
// persist loop that constructs one tree. It threads node2chunks explicitly
// rather than attaching it to persisted node records, and fans work out
// within a level via the Clusterer/Summarizer/LevelEmbedder it is given,
// never retrying a whole level itself — retries live in the adapter layer.
type RaptorBuilder struct {
	store     TreePersistence
	clusterer *Clusterer
	summarize *Summarizer
	embedder  LevelEmbedder
}

// NewRaptorBuilder wires the orchestrator's collaborators.
func NewRaptorBuilder(store TreePersistence, clusterer *Clusterer, summarizer *Summarizer, embedder LevelEmbedder) *RaptorBuilder {
	return &RaptorBuilder{store: store, clusterer: clusterer, summarize: summarizer, embedder: embedder}
}

// Build runs the full level-by-level loop for one document and returns the
// new tree's id. Each chunk carries its already-computed leaf embedding in
// its Vector field.
func (b *RaptorBuilder) Build(ctx context.Context, docID, datasetID string, chunks []ChunkItem, params BuildParams) (string, error) {
	if len(chunks) == 0 {
		return "", errs.Validation("RAPTOR_EMPTY_INPUT", "build: no chunks given")
	}

	treeID, err := b.store.CreateTree(ctx, docID, datasetID, params)
	if err != nil {
		return "", err
	}

	pacer := NewPacer(params.RPMLimit)

	node2chunks := map[string][]string{}
	currentIDs := make([]string, len(chunks))
	currentVecs := make([][]float64, len(chunks))
	currentTexts := make([]string, len(chunks))

	leafNodes := make([]Node, len(chunks))
	leafLinks := make([]NodeChunkLink, len(chunks))
	for i, c := range chunks {
		leafID := fmt.Sprintf("%s::leaf::%06d", treeID, i)
		currentIDs[i] = leafID
		currentVecs[i] = toFloat64(c.Vector)
		currentTexts[i] = c.Text
		node2chunks[leafID] = []string{c.ID}

		leafNodes[i] = Node{
			NodeID: leafID,
			TreeID: treeID,
			Level:  0,
			Kind:   KindLeaf,
			Text:   c.Text,
			Meta:   map[string]any{"chunk_id": c.ID},
		}
		leafLinks[i] = NodeChunkLink{TreeID: treeID, NodeID: leafID, ChunkID: c.ID, Rank: 0}
	}

	if len(chunks) == 1 {
		leafNodes[0].Kind = KindRoot
		leafNodes[0].Meta["is_root"] = true
	}

	if err := b.store.WithLevelTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		if err := b.store.AddNodes(ctx, tx, treeID, leafNodes); err != nil {
			return err
		}
		return b.store.LinkNodeChunks(ctx, tx, treeID, leafLinks)
	}); err != nil {
		return "", err
	}

	level := 0
	for len(currentIDs) > 1 {
		groups := b.clusterer.FitPredict(currentVecs)

		summaries, groupMembers, err := b.summarizeGroups(ctx, groups, currentIDs, currentTexts, params.MaxTokens)
		if err != nil {
			return "", err
		}

		if err := pacer.Wait(ctx); err != nil {
			return "", err
		}
		vecs, err := b.embedder.EmbedDocs(ctx, summaries)
		if err != nil {
			return "", errs.Embedding("EMBEDDING_GENERATION_FAILED", "build: level summary embed failed", err)
		}
		if len(vecs) != len(summaries) {
			return "", errs.Embedding("EMBEDDING_GENERATION_FAILED", "build: embedder returned mismatched vector count", nil)
		}

		newIDs, newVecs, newTexts, nodes, edges, links, embRows, err := b.buildLevelRows(
			treeID, datasetID, level, groupMembers, summaries, vecs, node2chunks, params,
		)
		if err != nil {
			return "", err
		}

		if err := b.store.WithLevelTx(ctx, func(ctx context.Context, tx bun.IDB) error {
			if err := b.store.AddNodes(ctx, tx, treeID, nodes); err != nil {
				return err
			}
			if err := b.store.AddEdges(ctx, tx, treeID, edges); err != nil {
				return err
			}
			if err := b.store.LinkNodeChunks(ctx, tx, treeID, links); err != nil {
				return err
			}
			return b.store.BulkUpsertEmbeddings(ctx, tx, embRows)
		}); err != nil {
			return "", err
		}

		currentIDs, currentVecs, currentTexts = newIDs, newVecs, newTexts
		level++
	}

	return treeID, nil
}

type groupMember struct {
	nodeIDs []string
	texts   []string
}

func (b *RaptorBuilder) summarizeGroups(ctx context.Context, groups [][]int, currentIDs, currentTexts []string, maxTokens int) ([]string, []groupMember, error) {
	summaries := make([]string, len(groups))
	members := make([]groupMember, len(groups))

	for gi, idxs := range groups {
		memberIDs := make([]string, len(idxs))
		memberTexts := make([]string, len(idxs))
		for i, idx := range idxs {
			memberIDs[i] = currentIDs[idx]
			memberTexts[i] = currentTexts[idx]
		}
		members[gi] = groupMember{nodeIDs: memberIDs, texts: memberTexts}
	}

	g, gctx := errgroup.WithContext(ctx)
	for gi := range groups {
		gi := gi
		g.Go(func() error {
			summary, err := b.summarize.SummarizeCluster(gctx, members[gi].texts, maxTokens)
			if err != nil {
				return err
			}
			summaries[gi] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return summaries, members, nil
}

func (b *RaptorBuilder) buildLevelRows(
	treeID, datasetID string,
	level int,
	groupMembers []groupMember,
	summaries []string,
	vecs [][]float32,
	node2chunks map[string][]string,
	params BuildParams,
) (newIDs []string, newVecs [][]float64, newTexts []string, nodes []Node, edges []Edge, links []NodeChunkLink, embRows []Embedding, err error) {
	for gi, member := range groupMembers {
		nodeID := fmt.Sprintf("%s::L%d::%d::%s", treeID, level+1, gi, randSuffix())

		nodes = append(nodes, Node{
			NodeID: nodeID,
			TreeID: treeID,
			Level:  level + 1,
			Kind:   KindSummary,
			Text:   summaries[gi],
			Meta:   map[string]any{},
		})

		for _, childID := range member.nodeIDs {
			edges = append(edges, Edge{TreeID: treeID, ParentID: nodeID, ChildID: childID})
		}

		aggChunks := aggregateChunks(member.nodeIDs, node2chunks)
		for rank, cid := range aggChunks {
			links = append(links, NodeChunkLink{TreeID: treeID, NodeID: nodeID, ChunkID: cid, Rank: rank})
		}
		node2chunks[nodeID] = aggChunks

		embRows = append(embRows, Embedding{
			DatasetID: datasetID,
			OwnerType: OwnerTreeNode,
			OwnerID:   nodeID,
			Model:     params.EmbeddingModel,
			Dim:       params.EmbeddingDim,
			Vector:    vecs[gi],
			Meta:      map[string]any{"tree_id": treeID, "level": level + 1},
		})

		newIDs = append(newIDs, nodeID)
		newVecs = append(newVecs, toFloat64(vecs[gi]))
		newTexts = append(newTexts, summaries[gi])
	}

	if len(newIDs) == 1 {
		nodes[0].Kind = KindRoot
		nodes[0].Meta["is_root"] = true
	}

	return newIDs, newVecs, newTexts, nodes, edges, links, embRows, nil
}

// aggregateChunks returns the deduplicated union of chunk ids transitively
// covered by memberIDs' children, ranked by first-seen traversal order.
func aggregateChunks(memberIDs []string, node2chunks map[string][]string) []string {
	seen := make(map[string]bool)
	var agg []string
	for _, mid := range memberIDs {
		for _, cid := range node2chunks[mid] {
			if !seen[cid] {
				seen[cid] = true
				agg = append(agg, cid)
			}
		}
	}
	return agg
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func randSuffix() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "000000"
	}
	return hex.EncodeToString(b[:])
}
