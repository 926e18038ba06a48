// Package disk implements the disk manager: it walks the block devices
// published under /dev/storage in the VFS, trial-parses each for a GPT
// and falling back to an MBR, and publishes one partition driver per
// discovered partition back into the same VFS.
//
// Grounded on the teacher codebase's internal/chipset package for its
// concurrency and registration shape (a mutex-guarded map populated by a
// discovery pass, "verb: %w" error wrapping) and on the wider example
// pack for the concrete third-party stack: golang.org/x/sync/errgroup
// (a teacher indirect dependency promoted to direct use here) runs the
// per-device trial parse concurrently the way a teacher build pipeline
// would fan work out across a worker pool; github.com/google/uuid
// (seen in the pack's perkeep-perkeep module) decodes GPT partition and
// type GUIDs instead of hand-rolling byte-swapped UUID parsing.
package disk

import (
	"context"
	"hash/crc32"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/klog"
	"github.com/tinyrange/roOs/internal/vfs"
)

const storageRoot = "/dev/storage"

const sectorSizeDefault = 512

// BlockDevice is the minimal interface a storage backend exposes to the
// disk manager's parsers: sized, sector-addressable raw read/write. Raw
// devices published for discovery (PublishRawDevice) implement this
// directly; the GPT/MBR parsers never see anything else, whether the
// backing device is an in-memory fixture or a VFS-mediated proxy opened
// during Discover.
type BlockDevice interface {
	Name() string
	SectorSize() uint64
	SizeBytes() uint64
	ReadAt(lba uint64, buf []byte) error
	WriteAt(lba uint64, buf []byte) error
}

// Partition describes one discovered partition, whichever parser found
// it.
type Partition struct {
	Name      string
	StartLBA  uint64
	LengthLBA uint64
	TypeGUID  string // empty for MBR partitions, which have no GUID
	PartGUID  string
	MBRType   byte
}

// Manager owns the set of discovered partitions and publishes a
// vfs.Driver for each into the given VFS under /dev/storage/<name>.
type Manager struct {
	logger klog.Logger
	mount  *vfs.VFS

	partitions map[string]*Partition
}

// NewManager returns a disk manager that will walk and publish into
// mount. A nil logger uses klog.Default().
func NewManager(mount *vfs.VFS, logger klog.Logger) *Manager {
	if logger == nil {
		logger = klog.Default()
	}
	return &Manager{logger: logger, mount: mount, partitions: make(map[string]*Partition)}
}

// PublishRawDevice mounts dev as a raw, unpartitioned block device at
// /dev/storage/<name>, the way a lower-level disk driver (an AHCI or
// virtio-blk probe, say) publishes a whole-disk entry for Discover's own
// walk to find. Tests and cmd/roosdemo call this to seed /dev/storage
// before Discover runs.
func (m *Manager) PublishRawDevice(dev BlockDevice) error {
	path := storageRoot + "/" + dev.Name()
	if err := m.mount.Register(path, newBlockDeviceDriver(dev)); err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: publish raw device %q", dev.Name())
	}
	return nil
}

type discoveredDevice struct {
	path string
	name string
}

// walkStorage reads /dev/storage through the VFS's own Open/Readdir,
// recursing into subdirectories and collecting every regular entry as a
// candidate block device, per the specification's discovery pipeline. A
// missing /dev/storage directory (no raw devices published yet) is not
// an error: Discover simply has nothing to do.
func (m *Manager) walkStorage(dir string) ([]discoveredDevice, error) {
	fd, err := m.mount.Open(dir, vfs.ORDONLY)
	if err != nil {
		if kernelerr.Is(err, kernelerr.NotFound) {
			return nil, nil
		}
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: open %q", dir)
	}
	defer m.mount.Close(fd)

	entries, err := m.mount.Readdir(fd)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "disk: readdir %q", dir)
	}

	var out []discoveredDevice
	for _, e := range entries {
		full := dir + "/" + e.Name
		if e.IsDir {
			children, err := m.walkStorage(full)
			if err != nil {
				m.logger.Error("disk", "walk %q: %v", full, err)
				continue
			}
			out = append(out, children...)
			continue
		}
		out = append(out, discoveredDevice{path: full, name: e.Name})
	}
	return out, nil
}

// Discover walks /dev/storage, trial-parsing every discovered entry
// concurrently (via errgroup) as GPT first and falling back to MBR. A
// device that matches neither parser is left alone: it is not an error
// for Discover as a whole, only logged. Matched partitions are published
// back into the VFS as sibling entries under /dev/storage.
func (m *Manager) Discover(ctx context.Context) error {
	devices, err := m.walkStorage(storageRoot)
	if err != nil {
		return err
	}

	results := make([][]*Partition, len(devices))

	g, ctx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		i, dev := i, dev
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			parts, err := m.parseDevice(dev.path, dev.name)
			if err != nil {
				m.logger.Info("disk", "device %q matches no partition scheme: %v", dev.name, err)
				return nil
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return kernelerr.Wrap(kernelerr.Resource, err, "disk: discover")
	}

	for i, dev := range devices {
		for _, p := range results[i] {
			if err := m.publish(dev.path, p); err != nil {
				m.logger.Error("disk", "publish partition %q: %v", p.Name, err)
			}
		}
	}
	return nil
}

// parseDevice opens the device at path through the VFS and trial-parses
// it, proxying every sector read through the fd's ioctls rather than
// touching the underlying BlockDevice directly: the disk manager only
// ever talks to a device's VFS-published endpoint, the same as any other
// caller would.
func (m *Manager) parseDevice(path, name string) ([]*Partition, error) {
	dev, err := openVFSBlockDevice(m.mount, path, name)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	if parts, err := parseGPT(dev); err == nil {
		return parts, nil
	}
	return parseMBR(dev)
}

func (m *Manager) publish(parentPath string, p *Partition) error {
	driver := newPartitionDriver(m.mount, parentPath, p)
	path := storageRoot + "/" + p.Name
	if err := m.mount.Register(path, driver); err != nil {
		return err
	}
	m.partitions[p.Name] = p
	m.logger.Info("disk", "published partition %q (%d..%d)", p.Name, p.StartLBA, p.StartLBA+p.LengthLBA)
	return nil
}

// Partitions returns the set of discovered partitions by name.
func (m *Manager) Partitions() map[string]*Partition {
	out := make(map[string]*Partition, len(m.partitions))
	for k, v := range m.partitions {
		out[k] = v
	}
	return out
}

func crc32OfHeaderWithZeroedCRC(header []byte, crcOffset int) uint32 {
	buf := append([]byte{}, header...)
	buf[crcOffset] = 0
	buf[crcOffset+1] = 0
	buf[crcOffset+2] = 0
	buf[crcOffset+3] = 0
	return crc32.ChecksumIEEE(buf)
}
