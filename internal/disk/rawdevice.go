package disk

import (
	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/vfs"
)

// blockDeviceDriver is the vfs.Driver published at /dev/storage/<name>
// for a raw, undiscovered block device: it has no subpaths of its own and
// presents a single byte-addressable stream (via FileSeek) plus the
// DEV_GET_SECTOR_SIZE/DEV_SET_LBA ioctls Discover's parsers and the
// partition driver's parent-proxying both rely on.
type blockDeviceDriver struct {
	dev BlockDevice
}

func newBlockDeviceDriver(dev BlockDevice) *blockDeviceDriver {
	return &blockDeviceDriver{dev: dev}
}

type rawDeviceHandle struct {
	posBytes int64
}

func (d *blockDeviceDriver) sectorSize() uint64 {
	s := d.dev.SectorSize()
	if s == 0 {
		return sectorSizeDefault
	}
	return s
}

func (d *blockDeviceDriver) sizeBytes() int64 { return int64(d.dev.SizeBytes()) }

func (d *blockDeviceDriver) Open(path string, flags int) (vfs.Handle, error) {
	if path != "" {
		return nil, kernelerr.New(kernelerr.InvalidArgument, "disk: %q has no subpaths", d.dev.Name())
	}
	return &rawDeviceHandle{}, nil
}

func (d *blockDeviceDriver) Close(h vfs.Handle) error { return nil }

func (d *blockDeviceDriver) clampedRange(pos int64, want int) int {
	size := d.sizeBytes()
	if pos >= size {
		return 0
	}
	if remaining := size - pos; int64(want) > remaining {
		want = int(remaining)
	}
	return want
}

func (d *blockDeviceDriver) Read(h vfs.Handle, buf []byte) (int, error) {
	rh := h.(*rawDeviceHandle)
	n := d.clampedRange(rh.posBytes, len(buf))
	if n == 0 {
		return 0, nil
	}

	sectorSize := d.sectorSize()
	lba := uint64(rh.posBytes) / sectorSize
	sectorOff := int(uint64(rh.posBytes) % sectorSize)

	sector := make([]byte, sectorSize)
	read := 0
	for read < n {
		if err := d.dev.ReadAt(lba, sector); err != nil {
			return read, kernelerr.Wrap(kernelerr.Resource, err, "disk: read %q", d.dev.Name())
		}
		chunk := copy(buf[read:n], sector[sectorOff:])
		read += chunk
		sectorOff = 0
		lba++
	}
	rh.posBytes += int64(read)
	return read, nil
}

func (d *blockDeviceDriver) Write(h vfs.Handle, buf []byte) (int, error) {
	rh := h.(*rawDeviceHandle)
	n := d.clampedRange(rh.posBytes, len(buf))
	if n == 0 {
		return 0, kernelerr.New(kernelerr.InvalidArgument, "disk: write past end of %q", d.dev.Name())
	}

	sectorSize := d.sectorSize()
	lba := uint64(rh.posBytes) / sectorSize
	sectorOff := int(uint64(rh.posBytes) % sectorSize)

	sector := make([]byte, sectorSize)
	written := 0
	for written < n {
		if sectorOff != 0 || n-written < int(sectorSize) {
			if err := d.dev.ReadAt(lba, sector); err != nil {
				return written, kernelerr.Wrap(kernelerr.Resource, err, "disk: read-modify-write %q", d.dev.Name())
			}
		}
		chunk := copy(sector[sectorOff:], buf[written:n])
		if err := d.dev.WriteAt(lba, sector); err != nil {
			return written, kernelerr.Wrap(kernelerr.Resource, err, "disk: write %q", d.dev.Name())
		}
		written += chunk
		sectorOff = 0
		lba++
	}
	rh.posBytes += int64(written)
	return written, nil
}

func (d *blockDeviceDriver) Readdir(h vfs.Handle) ([]vfs.DirEntry, error) {
	return nil, kernelerr.New(kernelerr.NotSupported, "disk: %q is not a directory", d.dev.Name())
}

func (d *blockDeviceDriver) Ioctl(h vfs.Handle, req vfs.IoctlRequest) (vfs.IoctlResponse, error) {
	rh := h.(*rawDeviceHandle)
	switch req.Code {
	case vfs.FileSeek:
		var base int64
		switch req.Direction {
		case vfs.SeekSet:
			base = 0
		case vfs.SeekCurrent:
			base = rh.posBytes
		case vfs.SeekEnd:
			base = d.sizeBytes()
		}
		newPos := base + req.Offset
		if newPos < 0 {
			newPos = 0
		}
		if size := d.sizeBytes(); newPos > size {
			newPos = size
		}
		rh.posBytes = newPos
		return vfs.IoctlResponse{Result: newPos}, nil
	case vfs.DevGetSectorSize:
		return vfs.IoctlResponse{Result: int64(d.sectorSize())}, nil
	case vfs.DevSetLBA:
		rh.posBytes = int64(req.LBA) * int64(d.sectorSize())
		return vfs.IoctlResponse{Result: int64(req.LBA)}, nil
	default:
		return vfs.IoctlResponse{}, kernelerr.New(kernelerr.NotSupported, "disk: unsupported ioctl code %d", req.Code)
	}
}
