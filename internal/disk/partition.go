package disk

import (
	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/vfs"
)

// partitionDriver is the vfs.Driver published for one discovered
// partition. It has no BlockDevice of its own: every operation opens (or
// reuses) a fd on the parent device's own VFS path and proxies through
// its FileSeek/DEV_GET_SECTOR_SIZE/DEV_SET_LBA ioctls, translating
// partition-relative offsets to the parent's absolute offset space by
// adding StartLBA*sectorSize — the same layering a real "read forwards
// to /dev/storage/disk0" partition device uses.
type partitionDriver struct {
	mount      *vfs.VFS
	parentPath string
	part       *Partition
}

func newPartitionDriver(mount *vfs.VFS, parentPath string, part *Partition) *partitionDriver {
	return &partitionDriver{mount: mount, parentPath: parentPath, part: part}
}

type partitionHandle struct {
	parentFD   int32
	posBytes   int64
	sectorSize uint64
}

func (d *partitionDriver) sizeBytes(sectorSize uint64) int64 {
	return int64(d.part.LengthLBA) * int64(sectorSize)
}

// Open rejects any non-empty subpath and any open that isn't O_RDWR: a
// published partition is a single addressable stream, not a directory,
// and every caller needs read-modify-write access to it.
func (d *partitionDriver) Open(path string, flags int) (vfs.Handle, error) {
	if path != "" {
		return nil, kernelerr.New(kernelerr.InvalidArgument, "disk: partition %q has no subpaths", d.part.Name)
	}
	if flags != vfs.ORDWR {
		return nil, kernelerr.New(kernelerr.InvalidArgument, "disk: partition %q must be opened O_RDWR", d.part.Name)
	}

	fd, err := d.mount.Open(d.parentPath, vfs.ORDWR)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: open parent %q for partition %q", d.parentPath, d.part.Name)
	}
	resp, err := d.mount.Ioctl(fd, vfs.IoctlRequest{Code: vfs.DevGetSectorSize})
	if err != nil {
		d.mount.Close(fd)
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: query sector size for %q", d.part.Name)
	}
	sectorSize := uint64(resp.Result)
	if sectorSize == 0 {
		sectorSize = sectorSizeDefault
	}
	return &partitionHandle{parentFD: fd, sectorSize: sectorSize}, nil
}

func (d *partitionDriver) Close(h vfs.Handle) error {
	ph := h.(*partitionHandle)
	return d.mount.Close(ph.parentFD)
}

func (d *partitionDriver) clampedRange(ph *partitionHandle, want int) int {
	size := d.sizeBytes(ph.sectorSize)
	if ph.posBytes >= size {
		return 0
	}
	if remaining := size - ph.posBytes; int64(want) > remaining {
		want = int(remaining)
	}
	return want
}

// seekParent positions the parent fd's offset at StartLBA*sectorSize
// plus the handle's current partition-relative offset, before every read
// or write — the translation from partition-relative to the parent
// device's absolute offset space.
func (d *partitionDriver) seekParent(ph *partitionHandle) error {
	absolute := int64(d.part.StartLBA)*int64(ph.sectorSize) + ph.posBytes
	_, err := d.mount.Ioctl(ph.parentFD, vfs.IoctlRequest{Code: vfs.FileSeek, Direction: vfs.SeekSet, Offset: absolute})
	return err
}

func (d *partitionDriver) Read(h vfs.Handle, buf []byte) (int, error) {
	ph := h.(*partitionHandle)
	want := d.clampedRange(ph, len(buf))
	if want == 0 {
		return 0, nil
	}
	if err := d.seekParent(ph); err != nil {
		return 0, kernelerr.Wrap(kernelerr.Resource, err, "disk: seek partition %q", d.part.Name)
	}
	n, err := d.mount.Read(ph.parentFD, buf[:want])
	if err != nil {
		return n, kernelerr.Wrap(kernelerr.Resource, err, "disk: read partition %q", d.part.Name)
	}
	ph.posBytes += int64(n)
	return n, nil
}

func (d *partitionDriver) Write(h vfs.Handle, buf []byte) (int, error) {
	ph := h.(*partitionHandle)
	want := d.clampedRange(ph, len(buf))
	if want == 0 {
		return 0, kernelerr.New(kernelerr.InvalidArgument, "disk: write past end of partition %q", d.part.Name)
	}
	if err := d.seekParent(ph); err != nil {
		return 0, kernelerr.Wrap(kernelerr.Resource, err, "disk: seek partition %q", d.part.Name)
	}
	n, err := d.mount.Write(ph.parentFD, buf[:want])
	if err != nil {
		return n, kernelerr.Wrap(kernelerr.Resource, err, "disk: write partition %q", d.part.Name)
	}
	ph.posBytes += int64(n)
	return n, nil
}

func (d *partitionDriver) Readdir(h vfs.Handle) ([]vfs.DirEntry, error) {
	return nil, kernelerr.New(kernelerr.NotSupported, "disk: partition %q is not a directory", d.part.Name)
}

// Ioctl translates FILE_SEEK to the partition-relative offset (clamped
// to the partition's own bounds, never exposing the parent device's
// absolute offset space) and DEV_SET_LBA to an LBA checked against
// LengthLBA that moves the handle's position and reports StartLBA+LBA;
// the parent fd itself is repositioned on the next Read or Write.
func (d *partitionDriver) Ioctl(h vfs.Handle, req vfs.IoctlRequest) (vfs.IoctlResponse, error) {
	ph := h.(*partitionHandle)
	switch req.Code {
	case vfs.FileSeek:
		var base int64
		switch req.Direction {
		case vfs.SeekSet:
			base = 0
		case vfs.SeekCurrent:
			base = ph.posBytes
		case vfs.SeekEnd:
			base = d.sizeBytes(ph.sectorSize)
		}
		newPos := base + req.Offset
		if newPos < 0 {
			newPos = 0
		}
		if size := d.sizeBytes(ph.sectorSize); newPos > size {
			newPos = size
		}
		ph.posBytes = newPos
		return vfs.IoctlResponse{Result: newPos}, nil
	case vfs.DevGetSectorSize:
		return vfs.IoctlResponse{Result: int64(ph.sectorSize)}, nil
	case vfs.DevSetLBA:
		if req.LBA >= d.part.LengthLBA {
			return vfs.IoctlResponse{}, kernelerr.New(kernelerr.InvalidArgument, "disk: LBA %d outside partition %q", req.LBA, d.part.Name)
		}
		ph.posBytes = int64(req.LBA) * int64(ph.sectorSize)
		absolute := d.part.StartLBA + req.LBA
		return vfs.IoctlResponse{Result: int64(absolute)}, nil
	default:
		return vfs.IoctlResponse{}, kernelerr.New(kernelerr.NotSupported, "disk: unsupported ioctl code %d", req.Code)
	}
}
