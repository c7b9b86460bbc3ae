package sinks

import (
	"context"
	"os"
	"path/filepath"
)

// FileObjectPutter is a local-disk ObjectPutter used as the disaster-recovery
// target when no object-storage SDK is configured: the example pack carries
// no S3/GCS client, so the object store sink degrades to writing its
// time-partitioned .jsonl.gz batches under a local directory instead.
type FileObjectPutter struct {
	BaseDir string
}

func (p FileObjectPutter) PutObject(ctx context.Context, key string, body []byte) error {
	full := filepath.Join(p.BaseDir, key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, body, 0o644)
}
