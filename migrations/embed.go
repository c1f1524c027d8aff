// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed sqlite/*.sql postgres/*.sql
var embeddedFiles embed.FS

type File struct {
	Name string
	SQL  string
}

// Ordered returns the migrations of one dialect directory sorted by file name.
func Ordered(dialect string) ([]File, error) {
	dir := strings.TrimSpace(dialect)
	if dir == "" {
		return nil, fmt.Errorf("migration dialect is required")
	}

	entries, err := fs.ReadDir(embeddedFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		body, err := embeddedFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		files = append(files, File{
			Name: entry.Name(),
			SQL:  string(body),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}
