// Package dbmigrations exposes the embedded SQL migrations for the notification journal.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into arbwatch binaries.
//
//go:embed *.sql
var Files embed.FS
