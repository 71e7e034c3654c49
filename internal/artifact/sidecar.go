package artifact

import (
	"encoding/json"
	"fmt"
	"os"

	"ghostd/internal/common/fsutil"
	"ghostd/internal/registry"
)

// Metadata is the checksum sidecar written next to each verified artifact.
type Metadata struct {
	SHA256 string  `json:"sha256"`
	ETag   *string `json:"etag"`
}

func sidecarPath(artifactPath string) string { return artifactPath + registry.SidecarSuffix }

func readMetadata(path string) (Metadata, error) {
	var md Metadata
	b, err := os.ReadFile(path)
	if err != nil {
		return md, fmt.Errorf("read metadata %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &md); err != nil {
		return md, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return md, nil
}

func writeMetadata(path string, md Metadata) error {
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
