package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileDeliverer writes the JSON and Markdown renderings into a directory
type FileDeliverer struct {
	dir string
}

// NewFileDeliverer creates a file sink rooted at dir
func NewFileDeliverer(dir string) *FileDeliverer {
	return &FileDeliverer{dir: dir}
}

// Name returns the sink name
func (f *FileDeliverer) Name() string {
	return "file"
}

// Deliver writes digest-<date>-<run>.json and .md
func (f *FileDeliverer) Deliver(ctx context.Context, d *Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	data, err := RenderJSON(d)
	if err != nil {
		return err
	}
	base := filepath.Join(f.dir, digestName(d))
	if err := writeAtomic(base+".json", data); err != nil {
		return err
	}
	return writeAtomic(base+".md", []byte(RenderMarkdown(d)))
}

// Paths returns the files Deliver writes for d
func (f *FileDeliverer) Paths(d *Digest) (string, string) {
	base := filepath.Join(f.dir, digestName(d))
	return base + ".json", base + ".md"
}

func digestName(d *Digest) string {
	id := d.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("digest-%s-%s", d.GeneratedAt.UTC().Format("2006-01-02"), id)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".digest-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}
