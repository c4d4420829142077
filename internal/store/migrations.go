package store

import "embed"

// migrationsFS embeds the schema migrations for identities and events
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
