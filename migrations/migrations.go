// Package migrations embeds the goose SQL migrations for the remote store.
package migrations

import "embed"

// FS holds every *.sql migration.
//
//go:embed *.sql
var FS embed.FS
