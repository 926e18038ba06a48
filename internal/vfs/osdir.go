package vfs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

// OSDirDriver mounts a real host directory into the VFS tree, for
// cmd/roosdemo and for tests that want a VFS backed by actual files
// instead of a fake in-memory filesystem. Conceptually grounded on the
// teacher codebase's internal/vfs/osdir.go (an OSDirBackend that
// passes FUSE operations straight through to os.* calls); rewritten
// here against this package's much simpler Driver interface rather than
// reused directly, since osdir.go's shape is tied to FUSE attribute and
// node-ID bookkeeping this VFS has no use for.
type OSDirDriver struct {
	root string
}

// NewOSDirDriver returns a driver rooted at the given host directory.
func NewOSDirDriver(root string) *OSDirDriver {
	return &OSDirDriver{root: root}
}

type osHandle struct {
	file *os.File
	dir  bool
}

// resolve joins the VFS-provided driver-local path (already stripped of
// this driver's mount-point prefix) onto the host root directory. An
// empty path means "the mount point itself."
func (d *OSDirDriver) resolve(path string) string {
	if path == "" {
		return d.root
	}
	return filepath.Join(d.root, filepath.Clean(path))
}

func (d *OSDirDriver) Open(path string, flags int) (Handle, error) {
	mode := os.O_RDONLY
	if flags == ORDWR {
		mode = os.O_RDWR
	}
	full := d.resolve(path)
	f, err := os.OpenFile(full, mode, 0)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "osdir: open %q", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "osdir: stat %q", path)
	}
	return &osHandle{file: f, dir: info.IsDir()}, nil
}

func (d *OSDirDriver) Close(h Handle) error {
	oh := h.(*osHandle)
	return oh.file.Close()
}

func (d *OSDirDriver) Read(h Handle, buf []byte) (int, error) {
	oh := h.(*osHandle)
	if oh.dir {
		return 0, kernelerr.New(kernelerr.InvalidArgument, "osdir: read on directory handle")
	}
	n, err := oh.file.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (d *OSDirDriver) Write(h Handle, buf []byte) (int, error) {
	oh := h.(*osHandle)
	if oh.dir {
		return 0, kernelerr.New(kernelerr.InvalidArgument, "osdir: write on directory handle")
	}
	return oh.file.Write(buf)
}

func (d *OSDirDriver) Readdir(h Handle) ([]DirEntry, error) {
	oh := h.(*osHandle)
	if !oh.dir {
		return nil, kernelerr.New(kernelerr.InvalidArgument, "osdir: readdir on file handle")
	}
	entries, err := oh.file.ReadDir(-1)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "osdir: readdir")
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if len(e.Name()) > MaxDirEntryNameBytes {
			continue
		}
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (d *OSDirDriver) Ioctl(h Handle, req IoctlRequest) (IoctlResponse, error) {
	oh := h.(*osHandle)
	switch req.Code {
	case FileSeek:
		whence := io.SeekStart
		switch req.Direction {
		case SeekCurrent:
			whence = io.SeekCurrent
		case SeekEnd:
			whence = io.SeekEnd
		}
		off, err := oh.file.Seek(req.Offset, whence)
		if err != nil {
			return IoctlResponse{}, kernelerr.Wrap(kernelerr.Resource, err, "osdir: seek")
		}
		return IoctlResponse{Result: off}, nil
	default:
		return IoctlResponse{}, kernelerr.New(kernelerr.NotSupported, "osdir: unsupported ioctl code %d", req.Code)
	}
}
