package archivefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mapped is a read-only archive file in memory. Views obtained from it are
// invalid after Close.
type Mapped struct {
	data  []byte
	unmap func() error
	once  sync.Once
	err   error
}

// Bytes returns the mapped file.
func (m *Mapped) Bytes() []byte { return m.data }

// Close releases the mapping. It is safe to call more than once.
func (m *Mapped) Close() error {
	m.once.Do(func() {
		if m.unmap != nil {
			m.err = m.unmap()
		}
		m.data = nil
	})
	return m.err
}

// WriteRaw stores a single archive unframed so it can be mapped back with
// OpenMapped. The file is replaced atomically.
func WriteRaw(path string, buf []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("archivefile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("archivefile: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archivefile: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archivefile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("archivefile: %w", err)
	}
	return nil
}
