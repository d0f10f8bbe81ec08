package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSource serves file contents from a root directory. It satisfies
// branch.DataSource; branches hold the handle but never call it themselves.
type FileSource struct {
	root string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{root: dir}
}

// Fetch reads the named reference relative to the source root. References
// escaping the root are rejected.
func (f *FileSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned := filepath.Clean(ref)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("ref %q escapes source root", ref)
	}

	data, err := os.ReadFile(filepath.Join(f.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	return data, nil
}
