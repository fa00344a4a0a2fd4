// Package migrations carries the Postgres schema as embedded SQL files.
package migrations

import "embed"

// FS holds every {version}_{name}.{up|down}.sql file.
//
//go:embed *.sql
var FS embed.FS
