// Package migrations holds the Postgres schema for the ledger store.
package migrations

import "embed"

// FS holds the *.sql files of this directory. storage.RunMigrations applies
// them in file-name order and records each in schema_migrations.
//
//go:embed *.sql
var FS embed.FS
