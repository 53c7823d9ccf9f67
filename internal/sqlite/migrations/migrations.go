// Package migrations holds the bun/migrate migration set for the RAPTOR
// persistence schema. Each file registers one migration via init(); order
// is derived from the timestamp prefix in the file name.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every migration file registers against.
var Migrations = migrate.NewMigrations()
