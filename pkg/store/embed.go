package store

import "embed"

//go:embed migrations
var embeddedMigrations embed.FS

// Migrations returns the embedded migration tree, for callers that don't
// need to supply their own (the common case — cmd/tarsy just calls
// store.Open(ctx, cfg, store.Migrations())).
func Migrations() MigrationsFS {
	return embeddedMigrations
}
