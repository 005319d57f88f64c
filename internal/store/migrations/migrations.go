// ABOUTME: Embedded goose SQL migrations for the keyport SQLite schema
// ABOUTME: Files are applied in numeric order by store.NewSQLiteStore

package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
