package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NewDirSource builds a Source from the .sql files in dir, ordered by file
// name. The migration ID is the file name without the extension, so a
// numeric prefix convention (001_init.sql, 002_add_index.sql) gives the
// apply order.
func NewDirSource(dir string) (*StaticSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			ID:  strings.TrimSuffix(name, ".sql"),
			SQL: string(sql),
		})
	}

	return NewStaticSource(migrations)
}
