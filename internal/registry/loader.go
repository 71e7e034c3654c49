package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"ghostd/internal/common/fsutil"
	"ghostd/pkg/types"
)

// SidecarSuffix is appended to an artifact filename to name its checksum sidecar.
const SidecarSuffix = ".meta.json"

var quantPattern = regexp.MustCompile(`(?i)(IQ\d_[A-Z0-9_]+|Q\d(?:_[A-Z0-9]+)*|F16|BF16|F32)\.gguf$`)

// LoadDir scans a directory for *.gguf files.
// ID is the full filename; Path is the absolute file path. A missing directory
// yields an empty list.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		p := filepath.Join(abs, name)
		m := types.Model{
			ID:         name,
			Name:       name[:len(name)-len(".gguf")],
			Path:       p,
			HasSidecar: fsutil.FileExists(p + SidecarSuffix),
		}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		if q := quantPattern.FindStringSubmatch(name); q != nil {
			m.Quant = strings.ToUpper(q[1])
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Filenames returns the IDs of models that carry a sidecar. It is the local
// stand-in for ListFiles when the network must not be touched.
func Filenames(models []types.Model) []string {
	var out []string
	for _, m := range models {
		if m.HasSidecar {
			out = append(out, m.ID)
		}
	}
	return out
}
