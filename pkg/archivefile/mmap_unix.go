//go:build unix

package archivefile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OpenMapped maps a raw archive file read-only. The mapping is page
// aligned, so aliasing scalars always succeeds on little-endian hosts.
func OpenMapped(path string) (*Mapped, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("archivefile: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("archivefile: stat %s: %w", path, err)
	}
	if st.Size == 0 {
		return &Mapped{data: []byte{}}, nil
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("archivefile: mmap %s: %w", path, err)
	}
	return &Mapped{data: data, unmap: func() error { return unix.Munmap(data) }}, nil
}
