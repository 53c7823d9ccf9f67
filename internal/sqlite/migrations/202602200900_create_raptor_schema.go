package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			sql := `
create table if not exists trees (
	tree_id text primary key,
	doc_id text not null,
	dataset_id text not null,
	params_json text not null default '{}',
	created_at datetime not null default current_timestamp
);
create index idx_trees_dataset_id on trees(dataset_id);
create index idx_trees_doc_id on trees(doc_id);

create table if not exists tree_nodes (
	node_id text primary key,
	tree_id text not null,
	level integer not null,
	kind text not null, -- leaf, summary, root
	text text not null default '',
	meta_json text not null default '{}',
	created_at datetime not null default current_timestamp,

	foreign key(tree_id) references trees(tree_id) on delete cascade
);
create index idx_tree_nodes_tree_id on tree_nodes(tree_id);
create index idx_tree_nodes_tree_level on tree_nodes(tree_id, level);

create table if not exists tree_edges (
	parent_id text not null,
	child_id text not null,
	tree_id text not null,
	primary key(parent_id, child_id),

	foreign key(tree_id) references trees(tree_id) on delete cascade,
	foreign key(parent_id) references tree_nodes(node_id) on delete cascade,
	foreign key(child_id) references tree_nodes(node_id) on delete cascade
);
create index idx_tree_edges_tree_id on tree_edges(tree_id);
create index idx_tree_edges_child_id on tree_edges(child_id);

create table if not exists tree_node_chunks (
	node_id text not null,
	chunk_id text not null,
	rank integer not null,
	tree_id text not null,
	primary key(node_id, chunk_id),

	foreign key(tree_id) references trees(tree_id) on delete cascade,
	foreign key(node_id) references tree_nodes(node_id) on delete cascade
);
create index idx_tree_node_chunks_tree_id on tree_node_chunks(tree_id);
create index idx_tree_node_chunks_node_rank on tree_node_chunks(node_id, rank);

create table if not exists embeddings (
	rowid integer primary key autoincrement,
	dataset_id text not null,
	owner_type text not null, -- chunk, tree_node
	owner_id text not null,
	model text not null,
	dim integer not null,
	meta_json text not null default '{}',
	created_at datetime not null default current_timestamp
);
create unique index idx_embeddings_owner on embeddings(dataset_id, owner_type, owner_id);

-- cosine-space approximate-nearest-neighbor index over embedding vectors.
-- embeddings_vec.rowid mirrors embeddings.rowid for the same logical row.
-- vec0 fixes the column width at creation; the width here matches the
-- default embedding dimension, and EnsureVecDim (internal/sqlite) rebuilds
-- the table when a build configures a different one.
create virtual table if not exists embeddings_vec using vec0(
	v float[1024] distance_metric=cosine
);
`
			if _, err := db.ExecContext(ctx, sql); err != nil {
				return err
			}
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			sql := `
drop table if exists embeddings_vec;
drop table if exists embeddings;
drop table if exists tree_node_chunks;
drop table if exists tree_edges;
drop table if exists tree_nodes;
drop table if exists trees;
`
			if _, err := db.ExecContext(ctx, sql); err != nil {
				return err
			}
			return nil
		},
	)
}
