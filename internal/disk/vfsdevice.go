package disk

import (
	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/vfs"
)

// vfsBlockDevice is a BlockDevice that proxies every operation through an
// already-open VFS file descriptor, rather than touching a raw
// BlockDevice implementation directly. It is what Discover hands to
// parseGPT/parseMBR: "opens the parent block device, queries
// DEV_GET_SECTOR_SIZE" and addresses sectors with DEV_SET_LBA, exactly as
// a driver published partition would when asked to read its parent.
type vfsBlockDevice struct {
	mount      *vfs.VFS
	fd         int32
	name       string
	sectorSize uint64
}

func openVFSBlockDevice(mount *vfs.VFS, path, name string) (*vfsBlockDevice, error) {
	fd, err := mount.Open(path, vfs.ORDWR)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: open %q", path)
	}
	resp, err := mount.Ioctl(fd, vfs.IoctlRequest{Code: vfs.DevGetSectorSize})
	if err != nil {
		mount.Close(fd)
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: query sector size of %q", path)
	}
	sectorSize := uint64(resp.Result)
	if sectorSize == 0 {
		sectorSize = sectorSizeDefault
	}
	return &vfsBlockDevice{mount: mount, fd: fd, name: name, sectorSize: sectorSize}, nil
}

func (d *vfsBlockDevice) Name() string       { return d.name }
func (d *vfsBlockDevice) SectorSize() uint64 { return d.sectorSize }

func (d *vfsBlockDevice) SizeBytes() uint64 {
	resp, err := d.mount.Ioctl(d.fd, vfs.IoctlRequest{Code: vfs.FileSeek, Direction: vfs.SeekEnd})
	if err != nil {
		return 0
	}
	return uint64(resp.Result)
}

func (d *vfsBlockDevice) ReadAt(lba uint64, buf []byte) error {
	if _, err := d.mount.Ioctl(d.fd, vfs.IoctlRequest{Code: vfs.DevSetLBA, LBA: lba}); err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: seek lba %d on %q", lba, d.name)
	}
	n, err := d.mount.Read(d.fd, buf)
	if err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: read lba %d from %q", lba, d.name)
	}
	if n != len(buf) {
		return kernelerr.New(kernelerr.Resource, "disk: short read at lba %d on %q (%d/%d bytes)", lba, d.name, n, len(buf))
	}
	return nil
}

func (d *vfsBlockDevice) WriteAt(lba uint64, buf []byte) error {
	if _, err := d.mount.Ioctl(d.fd, vfs.IoctlRequest{Code: vfs.DevSetLBA, LBA: lba}); err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: seek lba %d on %q", lba, d.name)
	}
	n, err := d.mount.Write(d.fd, buf)
	if err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: write lba %d to %q", lba, d.name)
	}
	if n != len(buf) {
		return kernelerr.New(kernelerr.Resource, "disk: short write at lba %d on %q (%d/%d bytes)", lba, d.name, n, len(buf))
	}
	return nil
}

func (d *vfsBlockDevice) Close() error { return d.mount.Close(d.fd) }
