// Package migrations embeds the goose migrations for every supported dialect.
package migrations

import "embed"

//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var FS embed.FS
