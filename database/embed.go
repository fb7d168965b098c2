package database

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

// Migrations returns the embedded migrations rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(EmbeddedMigrations, "migrations")
	if err != nil {
		// only possible if the embed pattern above changes
		panic(err)
	}
	return sub
}
