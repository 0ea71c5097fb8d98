package xray

import (
	"fmt"
	"os"
	"path/filepath"

	"v2neko/internal/xray/schema"
)

// WriteDocument serialises doc to path. The file is written next to its
// destination, synced and renamed into place so the engine never reads a
// partial document.
func WriteDocument(path string, doc *schema.Document) error {
	data, err := schema.Marshal(doc)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// ReadDocument loads and validates a document written by WriteDocument.
func ReadDocument(path string) (*schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.Unmarshal(data)
}

// WriteOutbound stores a per-profile outbound artifact.
func WriteOutbound(path string, o *schema.Outbound) error {
	data, err := schema.MarshalOutbound(o)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func ReadOutbound(path string) (*schema.Outbound, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.UnmarshalOutbound(data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
