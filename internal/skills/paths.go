// Package skills provides the built-in skill set and the on-disk skill
// catalog. Every file-touching skill resolves its paths inside a fixed
// project root; escaping it is an error, not an observation of the
// outside filesystem.
package skills

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxReadBytes caps how much of a file read_file_safe will return.
const maxReadBytes = 1 << 20

// resolve joins a caller-supplied relative path onto root and rejects any
// result that lands outside it.
func resolve(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no project root configured")
	}
	cleaned := filepath.Clean(filepath.Join(root, rel))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project root: %s", rel)
	}
	return abs, nil
}
