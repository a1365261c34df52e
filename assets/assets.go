// Package assets embeds the SQL schema migrations.
package assets

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change, identified by its file name.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns every embedded migration ordered by file name.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := migrationsFS.ReadFile(path.Join(migrationsDir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name, SQL: string(content)})
	}

	return out, nil
}
