package diagstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Filesystem writes each payload to its own file under a root directory, with a
// small .meta sidecar holding content type and metadata.
type Filesystem struct {
	root string
	now  func() time.Time
}

func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./logs"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Filesystem{root: root, now: time.Now}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

func (s *Filesystem) Put(ctx context.Context, data []byte, opts PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, newKey(s.now()))

	// write to a temp file first so a reader never sees a partial dump
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	if opts.ContentType != "" || len(opts.Metadata) > 0 {
		meta, err := json.Marshal(struct {
			ContentType string            `json:"content_type,omitempty"`
			Metadata    map[string]string `json:"metadata,omitempty"`
			Size        int               `json:"size"`
		}{opts.ContentType, opts.Metadata, len(data)})
		if err != nil {
			return path, err
		}
		if err := os.WriteFile(path+".meta", meta, 0o644); err != nil {
			return path, err
		}
	}
	return path, nil
}
