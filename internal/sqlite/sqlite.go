// Package sqlite owns the bun+sqlite-vec database handle used by the
// persistence layer (see internal/store): an init-once bootstrap that
// resolves the database path, applies PRAGMAs, and runs pending
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"raptorengine/internal/define"
	"raptorengine/internal/sqlite/migrations"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"
)

var (
	once   sync.Once
	db     *bun.DB
	dbPath string
)

func Path() string { return dbPath }
func DB() *bun.DB  { return db }

// Init opens (or creates) the database at path and runs pending migrations.
// An empty path resolves to the default location under the user config dir.
// Safe to call more than once; only the first call takes effect.
func Init(ctx context.Context, log *slog.Logger, path string) error {
	var initErr error
	once.Do(func() { initErr = doInit(ctx, log, path) })
	return initErr
}

func doInit(ctx context.Context, log *slog.Logger, path string) error {
	if path == "" {
		resolved, err := defaultDBPath()
		if err != nil {
			return err
		}
		path = resolved
	}
	dbPath = path
	if log != nil {
		log.Info("sqlite path", "path", dbPath)
	}

	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}

	// SQLite allows concurrent reads under WAL but writes are serialized;
	// a handful of connections is enough.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return err
	}

	if _, err := sqlDB.ExecContext(pingCtx, `PRAGMA busy_timeout = 5000;`); err != nil {
		sqlDB.Close()
		return err
	}
	if _, err := sqlDB.ExecContext(pingCtx, `PRAGMA foreign_keys = ON;`); err != nil {
		sqlDB.Close()
		return err
	}

	var vecVersion string
	if err := sqlDB.QueryRowContext(pingCtx, `SELECT vec_version()`).Scan(&vecVersion); err != nil {
		sqlDB.Close()
		return err
	}
	if log != nil {
		log.Info("sqlite-vec loaded", "version", vecVersion)
	}

	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())

	migrator := migrate.NewMigrator(bunDB, migrations.Migrations)
	if err := migrator.Init(pingCtx); err != nil {
		bunDB.Close()
		return err
	}
	group, err := migrator.Migrate(pingCtx)
	if err != nil {
		bunDB.Close()
		return err
	}

	db = bunDB

	if log != nil && group != nil && !group.IsZero() {
		log.Info("sqlite migrated", "group", group.String())
	}

	return nil
}

// Close closes the shared handle. Safe to call on an uninitialized package.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

// NowUTC returns the current time truncated to second precision in UTC,
// used for created_at columns.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func defaultDBPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(cfgDir, define.AppID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, define.DefaultSQLiteFileName), nil
}
