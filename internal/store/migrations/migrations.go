// Package migrations embeds the goose SQL migrations for the local database.
package migrations

import "embed"

// FS holds the ordered *.sql migrations applied by goose.
//
//go:embed *.sql
var FS embed.FS
