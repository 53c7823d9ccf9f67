// Package store implements the TreeStore persistence contract: upserting
// nodes, edges, node-chunk links, and embeddings for one RAPTOR tree, with
// a per-level transactional unit of work over the shared bun+sqlite handle
// (internal/sqlite).
package store

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"raptorengine/internal/raptor"
)

type treeRow struct {
	bun.BaseModel `bun:"table:trees,alias:t"`

	TreeID     string    `bun:"tree_id,pk"`
	DocID      string    `bun:"doc_id,notnull"`
	DatasetID  string    `bun:"dataset_id,notnull"`
	ParamsJSON string    `bun:"params_json,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type nodeRow struct {
	bun.BaseModel `bun:"table:tree_nodes,alias:n"`

	NodeID    string    `bun:"node_id,pk"`
	TreeID    string    `bun:"tree_id,notnull"`
	Level     int       `bun:"level,notnull"`
	Kind      string    `bun:"kind,notnull"`
	Text      string    `bun:"text,notnull"`
	MetaJSON  string    `bun:"meta_json,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type edgeRow struct {
	bun.BaseModel `bun:"table:tree_edges,alias:e"`

	ParentID string `bun:"parent_id,pk"`
	ChildID  string `bun:"child_id,pk"`
	TreeID   string `bun:"tree_id,notnull"`
}

type linkRow struct {
	bun.BaseModel `bun:"table:tree_node_chunks,alias:lk"`

	NodeID  string `bun:"node_id,pk"`
	ChunkID string `bun:"chunk_id,pk"`
	Rank    int    `bun:"rank,notnull"`
	TreeID  string `bun:"tree_id,notnull"`
}

type embeddingRow struct {
	bun.BaseModel `bun:"table:embeddings,alias:em"`

	RowID     int64     `bun:"rowid,pk,autoincrement"`
	DatasetID string    `bun:"dataset_id,notnull"`
	OwnerType string    `bun:"owner_type,notnull"`
	OwnerID   string    `bun:"owner_id,notnull"`
	Model     string    `bun:"model,notnull"`
	Dim       int       `bun:"dim,notnull"`
	MetaJSON  string    `bun:"meta_json,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func marshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func marshalParams(p raptor.BuildParams) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}
