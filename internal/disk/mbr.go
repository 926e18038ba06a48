package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

const (
	mbrSignature    = 0xaa55
	mbrPartTableOff = 446
	mbrEntrySize    = 16
	mbrNumEntries   = 4
)

// parseMBR trial-parses dev's first sector as a classic MBR: a 0xAA55
// signature at the end of the sector and four fixed 16-byte partition
// entries. Partitions are named "<disk>pN" for N in 0..3 in table order,
// including unused (zero-type) slots being skipped rather than
// renumbered, so a partition's name is stable regardless of which other
// slots are populated.
func parseMBR(dev BlockDevice) ([]*Partition, error) {
	sectorSize := dev.SectorSize()
	if sectorSize == 0 {
		sectorSize = sectorSizeDefault
	}
	if sectorSize < 512 {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "mbr: sector size %d too small", sectorSize)
	}

	sector := make([]byte, sectorSize)
	if err := dev.ReadAt(0, sector); err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "mbr: read sector 0")
	}

	sig := binary.LittleEndian.Uint16(sector[510:512])
	if sig != mbrSignature {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "mbr: bad boot signature 0x%x", sig)
	}

	var partitions []*Partition
	for n := 0; n < mbrNumEntries; n++ {
		entry := sector[mbrPartTableOff+n*mbrEntrySize : mbrPartTableOff+(n+1)*mbrEntrySize]
		partType := entry[4]
		if partType == 0 {
			continue
		}
		startLBA := binary.LittleEndian.Uint32(entry[8:12])
		numSectors := binary.LittleEndian.Uint32(entry[12:16])

		partitions = append(partitions, &Partition{
			Name:      fmt.Sprintf("%sp%d", dev.Name(), n),
			StartLBA:  uint64(startLBA),
			LengthLBA: uint64(numSectors),
			MBRType:   partType,
		})
	}
	if len(partitions) == 0 {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "mbr: no populated partition entries")
	}
	return partitions, nil
}
