// Package assets bundles the files the server ships with: prompt templates,
// locale catalogs and SQL migrations.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed prompts/*.tmpl locales/*.po sql/*.sql
var FS embed.FS

// Prompts returns the prompt template directory.
func Prompts() fs.FS { return sub("prompts") }

// Locales returns the PO catalog directory.
func Locales() fs.FS { return sub("locales") }

// Migrations returns the SQL migration directory.
func Migrations() fs.FS { return sub("sql") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(FS, dir)
	if err != nil {
		// dir is a compile-time constant matched by the embed pattern.
		panic(err)
	}
	return f
}
