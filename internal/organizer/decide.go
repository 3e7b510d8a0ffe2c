package organizer

import (
	"fmt"
	"path/filepath"
	"strings"
)

var labelReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// SanitizeLabel makes a service label safe to use as a single folder name.
// Separators and reserved characters are replaced so a label can never
// address a path outside the file's parent.
func SanitizeLabel(label string) (string, error) {
	clean := labelReplacer.Replace(label)
	switch {
	case strings.TrimSpace(clean) == "":
		return "", fmt.Errorf("label %q is empty after sanitizing", label)
	case clean == "." || clean == "..":
		return "", fmt.Errorf("label %q is not a folder name", label)
	}
	return clean, nil
}

// targetFolder is the folder a file with this label belongs in.
func targetFolder(path, label string) string {
	return filepath.Join(filepath.Dir(path), label)
}

// alreadyPlaced reports whether the file already sits in a folder named after
// its label. The root itself never counts as a label folder.
func alreadyPlaced(root, path, label string) bool {
	parent := filepath.Clean(filepath.Dir(path))
	if parent == filepath.Clean(targetFolder(path, label)) {
		return true
	}
	if parent == filepath.Clean(root) {
		return false
	}
	return filepath.Base(parent) == label
}
