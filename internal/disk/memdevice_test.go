package disk

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/uuid"

	"github.com/tinyrange/roOs/internal/vfs"
)

type memDevice struct {
	name    string
	sectors [][]byte
}

func newMemDevice(name string, numSectors int) *memDevice {
	sectors := make([][]byte, numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, sectorSizeDefault)
	}
	return &memDevice{name: name, sectors: sectors}
}

func (d *memDevice) Name() string       { return d.name }
func (d *memDevice) SectorSize() uint64 { return sectorSizeDefault }
func (d *memDevice) SizeBytes() uint64  { return uint64(len(d.sectors)) * sectorSizeDefault }

func (d *memDevice) ReadAt(lba uint64, buf []byte) error {
	copy(buf, d.sectors[lba])
	return nil
}

func (d *memDevice) WriteAt(lba uint64, buf []byte) error {
	copy(d.sectors[lba], buf)
	return nil
}

func buildMBRDevice() *memDevice {
	dev := newMemDevice("disk0", 100)
	sector := dev.sectors[0]
	binary.LittleEndian.PutUint16(sector[510:512], mbrSignature)

	entry0 := sector[mbrPartTableOff : mbrPartTableOff+mbrEntrySize]
	entry0[4] = 0x83
	binary.LittleEndian.PutUint32(entry0[8:12], 10)
	binary.LittleEndian.PutUint32(entry0[12:16], 20)

	entry1 := sector[mbrPartTableOff+mbrEntrySize : mbrPartTableOff+2*mbrEntrySize]
	entry1[4] = 0x83
	binary.LittleEndian.PutUint32(entry1[8:12], 40)
	binary.LittleEndian.PutUint32(entry1[12:16], 10)

	return dev
}

func writeMixedEndianGUID(dst []byte, id uuid.UUID) {
	b := id[:]
	dst[0], dst[1], dst[2], dst[3] = b[3], b[2], b[1], b[0]
	dst[4], dst[5] = b[5], b[4]
	dst[6], dst[7] = b[7], b[6]
	copy(dst[8:16], b[8:16])
}

func buildGPTDevice() *memDevice {
	dev := newMemDevice("disk1", 200)

	const entrySize = 128
	const numEntries = 4
	arrayLBA := uint64(2)

	array := make([]byte, numEntries*entrySize)
	entry := array[0:entrySize]
	typeID := uuid.New()
	partID := uuid.New()
	writeMixedEndianGUID(entry[0:16], typeID)
	writeMixedEndianGUID(entry[16:32], partID)
	binary.LittleEndian.PutUint64(entry[32:40], 50)
	binary.LittleEndian.PutUint64(entry[40:48], 99)

	arrayCRC := crc32.ChecksumIEEE(array)

	header := dev.sectors[1]
	binary.LittleEndian.PutUint64(header[0:8], gptSignature)
	binary.LittleEndian.PutUint32(header[12:16], gptHeaderSize)
	binary.LittleEndian.PutUint64(header[72:80], arrayLBA)
	binary.LittleEndian.PutUint32(header[80:84], numEntries)
	binary.LittleEndian.PutUint32(header[84:88], entrySize)
	binary.LittleEndian.PutUint32(header[88:92], arrayCRC)
	headerCRC := crc32OfHeaderWithZeroedCRC(header[:gptHeaderSize], 16)
	binary.LittleEndian.PutUint32(header[16:20], headerCRC)

	copy(dev.sectors[int(arrayLBA)], array)

	return dev
}

func TestParseMBRFindsPartitions(t *testing.T) {
	parts, err := parseMBR(buildMBRDevice())
	if err != nil {
		t.Fatalf("parseMBR: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d partitions, want 2", len(parts))
	}
	if parts[0].Name != "disk0p0" || parts[0].StartLBA != 10 || parts[0].LengthLBA != 20 {
		t.Fatalf("partition 0 = %+v", parts[0])
	}
	if parts[1].Name != "disk0p1" {
		t.Fatalf("partition 1 name = %q, want disk0p1", parts[1].Name)
	}
}

func TestParseGPTFindsPartitionAndVerifiesCRC(t *testing.T) {
	parts, err := parseGPT(buildGPTDevice())
	if err != nil {
		t.Fatalf("parseGPT: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d partitions, want 1", len(parts))
	}
	if parts[0].Name != "disk1pa" {
		t.Fatalf("partition name = %q, want disk1pa", parts[0].Name)
	}
	if parts[0].StartLBA != 50 || parts[0].LengthLBA != 49 {
		t.Fatalf("partition = %+v", parts[0])
	}
}

func TestParseGPTRejectsBadCRC(t *testing.T) {
	dev := buildGPTDevice()
	dev.sectors[1][50] ^= 0xff // corrupt a byte inside the header
	if _, err := parseGPT(dev); err == nil {
		t.Fatalf("expected CRC mismatch error")
	}
}

func TestDiscoverFindsMBRAndGPTDevices(t *testing.T) {
	mount := vfs.New()
	mgr := NewManager(mount, nil)

	if err := mgr.PublishRawDevice(buildMBRDevice()); err != nil {
		t.Fatalf("PublishRawDevice disk0: %v", err)
	}
	if err := mgr.PublishRawDevice(buildGPTDevice()); err != nil {
		t.Fatalf("PublishRawDevice disk1: %v", err)
	}

	if err := mgr.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	parts := mgr.Partitions()
	if _, ok := parts["disk0p0"]; !ok {
		t.Fatalf("expected disk0p0 published")
	}
	if _, ok := parts["disk1pa"]; !ok {
		t.Fatalf("expected disk1pa published")
	}

	if _, ok := mount.Lookup("/dev/storage/disk0p0"); !ok {
		t.Fatalf("expected disk0p0 mounted in vfs")
	}
}

func TestDiscoverWithNoStorageDirectoryIsNotAnError(t *testing.T) {
	mount := vfs.New()
	mgr := NewManager(mount, nil)

	if err := mgr.Discover(context.Background()); err != nil {
		t.Fatalf("Discover with no /dev/storage: %v", err)
	}
	if len(mgr.Partitions()) != 0 {
		t.Fatalf("expected no partitions")
	}
}

func mountRawDevice(t *testing.T, dev BlockDevice) (*vfs.VFS, string) {
	t.Helper()
	mount := vfs.New()
	path := "/dev/storage/" + dev.Name()
	if err := mount.Register(path, newBlockDeviceDriver(dev)); err != nil {
		t.Fatalf("Register %q: %v", path, err)
	}
	return mount, path
}

func TestPartitionDriverClampsReadPastEnd(t *testing.T) {
	mount, path := mountRawDevice(t, buildMBRDevice())
	part := &Partition{Name: "disk0p0", StartLBA: 10, LengthLBA: 1}
	driver := newPartitionDriver(mount, path, part)

	h, err := driver.Open("", vfs.ORDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, 1024) // request more than the 1-sector partition holds
	n, err := driver.Read(h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 512 {
		t.Fatalf("read %d bytes, want clamped to 512 (1 sector)", n)
	}

	n2, err := driver.Read(h, buf)
	if err != nil {
		t.Fatalf("Read at EOF: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("read past end returned %d bytes, want 0", n2)
	}
}

func TestPartitionDriverSeekIsRelativeToParent(t *testing.T) {
	mount, path := mountRawDevice(t, buildMBRDevice())
	part := &Partition{Name: "disk0p0", StartLBA: 10, LengthLBA: 5}
	driver := newPartitionDriver(mount, path, part)
	h, err := driver.Open("", vfs.ORDWR)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	resp, err := driver.Ioctl(h, vfs.IoctlRequest{Code: vfs.DevSetLBA, LBA: 2})
	if err != nil {
		t.Fatalf("Ioctl DevSetLBA: %v", err)
	}
	if resp.Result != 12 {
		t.Fatalf("absolute LBA = %d, want 12 (StartLBA 10 + 2)", resp.Result)
	}
}

func TestPartitionDriverOpenRejectsSubpathAndReadOnly(t *testing.T) {
	mount, path := mountRawDevice(t, buildMBRDevice())
	part := &Partition{Name: "disk0p0", StartLBA: 10, LengthLBA: 5}
	driver := newPartitionDriver(mount, path, part)

	if _, err := driver.Open("sub", vfs.ORDWR); err == nil {
		t.Fatalf("expected error opening a non-empty subpath")
	}
	if _, err := driver.Open("", vfs.ORDONLY); err == nil {
		t.Fatalf("expected error opening O_RDONLY")
	}
	if _, err := driver.Open("", vfs.ORDWR); err != nil {
		t.Fatalf("Open(\"\", O_RDWR): %v", err)
	}
}
