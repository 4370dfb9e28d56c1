// Package migrations embeds the remote store SQL migrations so goose can run
// them programmatically at daemon bootstrap, without a filesystem path at
// runtime.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
