// Package raptor implements the RAPTOR tree-build pipeline: the recursive
// cluster -> summarize -> embed -> persist loop, and its supporting
// concurrency primitives (rate limiting, packing, clustering).
package raptor

import "time"

// NodeKind is the kind of a tree node.
type NodeKind string

const (
	KindLeaf    NodeKind = "leaf"
	KindSummary NodeKind = "summary"
	KindRoot    NodeKind = "root"
)

// OwnerType is the kind of thing an Embedding vector belongs to.
type OwnerType string

const (
	OwnerChunk    OwnerType = "chunk"
	OwnerTreeNode OwnerType = "tree_node"
)

// Chunk is an external entity: a document fragment handed to the builder
// already split and already embedded (level-0 leaves carry their own
// vector; see ChunkItem).
type Chunk struct {
	ID         string
	DocID      string
	Index      int
	Text       string
	TokenCount int
}

// Tree is the owning row for one build: immutable once created.
type Tree struct {
	TreeID    string
	DocID     string
	DatasetID string
	Params    BuildParams
	CreatedAt time.Time
}

// Node is one vertex of the tree: a leaf (verbatim chunk) or a
// summary/root (LLM-generated text).
type Node struct {
	NodeID    string
	TreeID    string
	Level     int
	Kind      NodeKind
	Text      string
	Meta      map[string]any
	CreatedAt time.Time
}

// Edge is a directed (parent, child) adjacency; a node may have more than
// one parent under soft clustering, so edges are a relation, not a
// child-list field on Node.
type Edge struct {
	TreeID   string
	ParentID string
	ChildID  string
}

// NodeChunkLink maps a node to one of the leaf chunks it transitively
// covers, with a stable first-seen rank.
type NodeChunkLink struct {
	TreeID  string
	NodeID  string
	ChunkID string
	Rank    int
}

// Embedding is a persisted vector for either a chunk or a tree node.
type Embedding struct {
	DatasetID string
	OwnerType OwnerType
	OwnerID   string
	Model     string
	Dim       int
	Vector    []float32
	Meta      map[string]any
	CreatedAt time.Time
}

// BuildParams are the tunable knobs of one build, enumerated in full so a
// Tree's snapshot is self-describing.
type BuildParams struct {
	RPMLimit              int     `json:"rpm_limit"`
	TPMLimit              int     `json:"tpm_limit"`
	PerRequestTokenBudget int     `json:"per_request_token_budget"`
	PerSlotMaxConcurrent  int     `json:"per_slot_max_concurrent"`
	LLMConcurrency        int     `json:"llm_concurrency"`
	MaxTokens             int     `json:"max_tokens"`
	MinK                  int     `json:"min_k"`
	MaxK                  int     `json:"max_k"`
	ReductionDim          int     `json:"reduction_dim"`
	Threshold             float64 `json:"threshold"`
	Metric                string  `json:"metric"`
	RandomState           int64   `json:"random_state"`
	MaxRetries            int     `json:"max_retries"`
	EmbeddingModel        string  `json:"embedding_model"`
	EmbeddingDim          int     `json:"embedding_dim"`
}

// DefaultBuildParams returns the documented defaults for every knob.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		RPMLimit:              3,
		TPMLimit:              10_000,
		PerRequestTokenBudget: 9_500,
		PerSlotMaxConcurrent:  2,
		LLMConcurrency:        3,
		MaxTokens:             4_048,
		MinK:                  2,
		MaxK:                  50,
		ReductionDim:          10,
		Threshold:             0.1,
		Metric:                "cosine",
		RandomState:           224,
		MaxRetries:            3,
		EmbeddingModel:        "voyage-context-3",
		EmbeddingDim:          1024,
	}
}

// ChunkItem is one leaf input to the builder: a chunk id/text pair plus its
// already-computed embedding vector.
type ChunkItem struct {
	ID     string
	Text   string
	Vector []float32
}
