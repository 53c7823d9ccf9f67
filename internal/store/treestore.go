package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"raptorengine/internal/errs"
	"raptorengine/internal/raptor"
	"raptorengine/internal/sqlite"
)

// TreeStore exposes the atomic, level-scoped persistence operations the
// RaptorBuilder needs: create_tree, add_nodes, add_edges,
// link_node_chunks, bulk_upsert_embeddings, and delete_by_dataset, plus a
// WithLevelTx unit-of-work wrapper that groups one level's writes into a
// single transaction.
type TreeStore struct {
	db *bun.DB
}

// NewTreeStore wraps the shared sqlite handle. Passing nil uses the
// package-level handle from internal/sqlite (sqlite.Init must have run).
func NewTreeStore(db *bun.DB) *TreeStore {
	if db == nil {
		db = sqlite.DB()
	}
	return &TreeStore{db: db}
}

// CreateTree inserts a new, immutable tree row and returns its id. It
// first makes sure the embeddings_vec ANN table is declared at the build's
// embedding dimension — vec0 rejects inserts of any other width, so a
// dimension change rebuilds the table before the first level is written.
func (s *TreeStore) CreateTree(ctx context.Context, docID, datasetID string, params raptor.BuildParams) (string, error) {
	if params.EmbeddingDim > 0 {
		if err := sqlite.EnsureVecDim(ctx, s.db, params.EmbeddingDim); err != nil {
			return "", errs.Persistence("PERSISTENCE_VEC_REBUILD_FAILED", "create_tree: vector index rebuild failed", err)
		}
	}
	row := &treeRow{
		TreeID:     uuid.New().String(),
		DocID:      docID,
		DatasetID:  datasetID,
		ParamsJSON: marshalParams(params),
		CreatedAt:  sqlite.NowUTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return "", errs.Persistence("PERSISTENCE_CREATE_TREE_FAILED", "create_tree: insert failed", err)
	}
	return row.TreeID, nil
}

// WithLevelTx runs fn inside one transaction: all writes for a single
// level (nodes, edges, links, embeddings) succeed or roll back together.
// fn receives the transaction as a bun.IDB so callers (and test fakes) can
// pass it straight through to AddNodes/AddEdges/etc. without depending on
// the concrete bun.Tx type.
func (s *TreeStore) WithLevelTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		return errs.Persistence("PERSISTENCE_LEVEL_COMMIT_FAILED", "level transaction failed, rolled back", err)
	}
	return nil
}

// AddNodes upserts node rows by node_id. db may be the shared *bun.DB or a
// bun.Tx, so callers can use it both inside and outside a level's unit of
// work; RaptorBuilder writes every level, leaves included, inside WithLevelTx.
func (s *TreeStore) AddNodes(ctx context.Context, db bun.IDB, treeID string, nodes []raptor.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	rows := make([]*nodeRow, len(nodes))
	for i, n := range nodes {
		rows[i] = &nodeRow{
			NodeID:    n.NodeID,
			TreeID:    treeID,
			Level:     n.Level,
			Kind:      string(n.Kind),
			Text:      n.Text,
			MetaJSON:  marshalMeta(n.Meta),
			CreatedAt: sqlite.NowUTC(),
		}
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (node_id) DO UPDATE").
		Set("level = EXCLUDED.level").
		Set("kind = EXCLUDED.kind").
		Set("text = EXCLUDED.text").
		Set("meta_json = EXCLUDED.meta_json").
		Exec(ctx)
	if err != nil {
		return errs.Persistence("PERSISTENCE_ADD_NODES_FAILED", "add_nodes: upsert failed", err)
	}
	return nil
}

// AddEdges upserts edge rows by (parent_id, child_id).
func (s *TreeStore) AddEdges(ctx context.Context, db bun.IDB, treeID string, edges []raptor.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	rows := make([]*edgeRow, len(edges))
	for i, e := range edges {
		rows[i] = &edgeRow{ParentID: e.ParentID, ChildID: e.ChildID, TreeID: treeID}
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (parent_id, child_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return errs.Persistence("PERSISTENCE_ADD_EDGES_FAILED", "add_edges: upsert failed", err)
	}
	return nil
}

// LinkNodeChunks upserts node-chunk link rows by (node_id, chunk_id),
// storing rank.
func (s *TreeStore) LinkNodeChunks(ctx context.Context, db bun.IDB, treeID string, links []raptor.NodeChunkLink) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([]*linkRow, len(links))
	for i, l := range links {
		rows[i] = &linkRow{NodeID: l.NodeID, ChunkID: l.ChunkID, Rank: l.Rank, TreeID: treeID}
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (node_id, chunk_id) DO UPDATE").
		Set("rank = EXCLUDED.rank").
		Exec(ctx)
	if err != nil {
		return errs.Persistence("PERSISTENCE_LINK_NODE_CHUNKS_FAILED", "link_node_chunks: upsert failed", err)
	}
	return nil
}

// BulkUpsertEmbeddings upserts by (dataset_id, owner_type, owner_id) and
// mirrors the vector into the embeddings_vec ANN index, keyed by the
// logical row's rowid so the two tables stay in lockstep.
func (s *TreeStore) BulkUpsertEmbeddings(ctx context.Context, db bun.IDB, rows []raptor.Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	for _, e := range rows {
		if len(e.Vector) != e.Dim {
			return errs.Validation("EMBEDDING_DIM_MISMATCH", fmt.Sprintf(
				"bulk_upsert_embeddings: vector length %d does not match declared dim %d for %s",
				len(e.Vector), e.Dim, e.OwnerID,
			))
		}
		row := &embeddingRow{
			DatasetID: e.DatasetID,
			OwnerType: string(e.OwnerType),
			OwnerID:   e.OwnerID,
			Model:     e.Model,
			Dim:       e.Dim,
			MetaJSON:  marshalMeta(e.Meta),
			CreatedAt: sqlite.NowUTC(),
		}
		err := db.NewInsert().
			Model(row).
			On("CONFLICT (dataset_id, owner_type, owner_id) DO UPDATE").
			Set("model = EXCLUDED.model").
			Set("dim = EXCLUDED.dim").
			Set("meta_json = EXCLUDED.meta_json").
			Returning("rowid").
			Scan(ctx, &row.RowID)
		if err != nil {
			return errs.Persistence("PERSISTENCE_BULK_UPSERT_EMBEDDINGS_FAILED", "bulk_upsert_embeddings: logical row upsert failed", err)
		}

		vecStr := formatVector(e.Vector)
		if _, err := db.NewRaw("DELETE FROM embeddings_vec WHERE rowid = ?", row.RowID).Exec(ctx); err != nil {
			return errs.Persistence("PERSISTENCE_BULK_UPSERT_EMBEDDINGS_FAILED", "bulk_upsert_embeddings: vec cleanup failed", err)
		}
		if _, err := db.NewRaw("INSERT INTO embeddings_vec (rowid, v) VALUES (?, ?)", row.RowID, vecStr).Exec(ctx); err != nil {
			return errs.Persistence("PERSISTENCE_BULK_UPSERT_EMBEDDINGS_FAILED", "bulk_upsert_embeddings: vec insert failed", err)
		}
	}
	return nil
}

// DeleteByDataset cascades a dataset's trees (and their nodes, edges,
// links, embeddings) before a re-ingestion rebuilds them, returning the
// deleted tree ids.
func (s *TreeStore) DeleteByDataset(ctx context.Context, datasetID string) ([]string, error) {
	var treeIDs []string
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model((*treeRow)(nil)).
			Column("tree_id").
			Where("dataset_id = ?", datasetID).
			Scan(ctx, &treeIDs); err != nil {
			return err
		}
		if len(treeIDs) == 0 {
			return nil
		}
		if _, err := tx.NewRaw(
			`DELETE FROM embeddings_vec WHERE rowid IN (SELECT rowid FROM embeddings WHERE dataset_id = ?)`,
			datasetID,
		).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*embeddingRow)(nil)).Where("dataset_id = ?", datasetID).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*treeRow)(nil)).Where("dataset_id = ?", datasetID).Exec(ctx); err != nil {
			return err
		}
		// tree_nodes/tree_edges/tree_node_chunks cascade via FK ON DELETE CASCADE.
		return nil
	})
	if err != nil {
		return nil, errs.Persistence("PERSISTENCE_DELETE_BY_DATASET_FAILED", "delete_by_dataset: cascade failed", err)
	}
	return treeIDs, nil
}

func formatVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	buf := make([]byte, 0, len(vec)*10)
	buf = append(buf, '[')
	for i, v := range vec {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}
