//go:build linux

package disk

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

// FileBackend is a BlockDevice backed by a real Linux block device node
// (or a regular file, for development), using golang.org/x/sys/unix's
// BLKGETSIZE64/BLKSSZGET ioctls to discover geometry instead of trusting
// a caller-supplied size — the same ioctl pair the Linux partprobe/lsblk
// tools use. Falls back to os.File.Stat for the size of a regular file,
// which keeps the default 512-byte sector size.
type FileBackend struct {
	name string
	f    *os.File

	sectorSize uint64
	sizeBytes  uint64
}

// OpenFileBackend opens path (a block device node or regular file) and
// probes its geometry.
func OpenFileBackend(name, path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: open %q", path)
	}

	b := &FileBackend{name: name, f: f, sectorSize: sectorSizeDefault}

	fd := int(f.Fd())
	if size, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64); err == nil {
		b.sizeBytes = uint64(size)
	}
	if sz, err := unix.IoctlGetInt(fd, unix.BLKSSZGET); err == nil && sz > 0 {
		b.sectorSize = uint64(sz)
	}

	if b.sizeBytes == 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: stat %q", path)
		}
		b.sizeBytes = uint64(info.Size())
	}

	return b, nil
}

func (b *FileBackend) Name() string       { return b.name }
func (b *FileBackend) SectorSize() uint64 { return b.sectorSize }
func (b *FileBackend) SizeBytes() uint64  { return b.sizeBytes }

func (b *FileBackend) ReadAt(lba uint64, buf []byte) error {
	_, err := b.f.ReadAt(buf, int64(lba)*int64(b.sectorSize))
	if err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: read lba %d from %q", lba, b.name)
	}
	return nil
}

func (b *FileBackend) WriteAt(lba uint64, buf []byte) error {
	_, err := b.f.WriteAt(buf, int64(lba)*int64(b.sectorSize))
	if err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: write lba %d to %q", lba, b.name)
	}
	return nil
}

func (b *FileBackend) Close() error { return b.f.Close() }
