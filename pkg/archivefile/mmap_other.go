//go:build !unix

package archivefile

import (
	"fmt"
	"os"

	"github.com/rawbytedev/zcarchive/internal/common"
)

// OpenMapped reads a raw archive file into aligned memory. Platforms
// without mmap get a private copy.
func OpenMapped(path string) (*Mapped, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archivefile: read %s: %w", path, err)
	}
	data := common.AlignedBytes(len(raw))
	copy(data, raw)
	return &Mapped{data: data}, nil
}
