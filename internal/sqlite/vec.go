package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/uptrace/bun"
)

// vecTableName is the vec0 virtual table backing the ANN index over
// embeddings; its rowid mirrors embeddings.rowid.
const vecTableName = "embeddings_vec"

var (
	// vecMu serializes rebuilds so two builds configuring different
	// dimensions at once cannot interleave the swap.
	vecMu    sync.Mutex
	vecDimRe = regexp.MustCompile(`(?i)float\[(\d+)\]`)
)

// VecDim returns the vector width embeddings_vec was declared with, read
// back from its DDL in sqlite_master.
func VecDim(ctx context.Context, db *bun.DB) (int, error) {
	var ddl string
	if err := db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, vecTableName,
	).Scan(&ddl); err != nil {
		return 0, fmt.Errorf("read %s ddl: %w", vecTableName, err)
	}
	m := vecDimRe.FindStringSubmatch(ddl)
	if m == nil {
		return 0, fmt.Errorf("no float[n] column in %s ddl: %s", vecTableName, ddl)
	}
	return strconv.Atoi(m[1])
}

// EnsureVecDim rebuilds embeddings_vec when dim differs from the declared
// column width. vec0 fixes the width at creation time, so a dimension
// change needs a fresh table: create a tmp table, rename-swap, drop the
// old one. Rows are not carried over — vectors computed under a different
// dimension are useless under the new one, and re-ingestion re-creates
// them.
func EnsureVecDim(ctx context.Context, db *bun.DB, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("ensure %s dim: invalid dimension %d", vecTableName, dim)
	}

	vecMu.Lock()
	defer vecMu.Unlock()

	current, err := VecDim(ctx, db)
	if err != nil {
		return err
	}
	if current == dim {
		return nil
	}

	now := time.Now().UnixNano()
	tmpName := fmt.Sprintf("%s_tmp_%d", vecTableName, now)
	oldName := fmt.Sprintf("%s_old_%d", vecTableName, now)

	_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s";`, tmpName))
	_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s";`, oldName))

	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE "%s" USING vec0(v float[%d] distance_metric=cosine);`,
		tmpName, dim,
	)); err != nil {
		return fmt.Errorf("create tmp %s: %w", vecTableName, err)
	}

	// Rename-swap keeps the old table recoverable if the second rename fails.
	_, errRenameOld := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO "%s";`, vecTableName, oldName))
	_, errRenameNew := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE "%s" RENAME TO %s;`, tmpName, vecTableName))
	if errRenameNew != nil {
		if errRenameOld == nil {
			_, _ = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE "%s" RENAME TO %s;`, oldName, vecTableName))
		}
		_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s";`, tmpName))

		// Last resort: drop and recreate in place.
		_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, vecTableName))
		if _, err := db.ExecContext(ctx, fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(v float[%d] distance_metric=cosine);`,
			vecTableName, dim,
		)); err != nil {
			return fmt.Errorf("rebuild %s: %w", vecTableName, err)
		}
		return nil
	}
	if errRenameOld == nil {
		_, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s";`, oldName))
	}
	return nil
}
