package organizer

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// snapshot lists every regular file under root in lexical walk order. The
// list is taken before any move so folders created during the run are never
// visited. Symlinks and other special files are logged and left alone.
func snapshot(root string, log *slog.Logger) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("unreadable entry, skipping", "path", path, "error", err)
			return nil
		}
		switch {
		case d.IsDir():
		case d.Type().IsRegular():
			files = append(files, path)
		default:
			log.Info("not a regular file, skipping", "path", path, "type", d.Type().String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
