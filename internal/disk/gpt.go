package disk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

const gptSignature = 0x5452415020494645 // "EFI PART" little-endian

// gptHeaderSize is the on-disk size of the fixed portion of a GPT header;
// the remainder of the 512-byte (or sector-sized) block is reserved and
// zero.
const gptHeaderSize = 92

// parseGPT trial-parses dev as a GUID Partition Table: it selects the
// device's sector directly (DEV_SET_LBA semantics: the header lives at
// LBA 1, independent of the backing sector size), verifies the "EFI
// PART" signature and the header's own CRC32 (computed with the CRC
// field itself zeroed), then decodes the partition entry array starting
// at the header's declared LBA. Any mismatch returns ProtocolMismatch so
// Manager.parseDevice falls back to MBR.
func parseGPT(dev BlockDevice) ([]*Partition, error) {
	sectorSize := dev.SectorSize()
	if sectorSize == 0 {
		sectorSize = sectorSizeDefault
	}

	header := make([]byte, sectorSize)
	if err := dev.ReadAt(1, header); err != nil {
		return nil, kernelerr.Wrap(kernelerr.Resource, err, "gpt: read header")
	}

	sig := binary.LittleEndian.Uint64(header[0:8])
	if sig != gptSignature {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "gpt: bad signature")
	}

	headerSize := binary.LittleEndian.Uint32(header[12:16])
	if headerSize < gptHeaderSize || uint64(headerSize) > sectorSize {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "gpt: implausible header size %d", headerSize)
	}

	storedCRC := binary.LittleEndian.Uint32(header[16:20])
	computed := crc32OfHeaderWithZeroedCRC(header[:headerSize], 16)
	if storedCRC != computed {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "gpt: header CRC mismatch (stored=0x%x computed=0x%x)", storedCRC, computed)
	}

	partArrayLBA := binary.LittleEndian.Uint64(header[72:80])
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	arrayCRC := binary.LittleEndian.Uint32(header[88:92])

	if entrySize < 128 || numEntries == 0 || numEntries > 4096 {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "gpt: implausible partition array shape entries=%d size=%d", numEntries, entrySize)
	}

	arrayBytes := uint64(numEntries) * uint64(entrySize)
	arraySectors := (arrayBytes + sectorSize - 1) / sectorSize
	array := make([]byte, arraySectors*sectorSize)
	for i := uint64(0); i < arraySectors; i++ {
		if err := dev.ReadAt(partArrayLBA+i, array[i*sectorSize:(i+1)*sectorSize]); err != nil {
			return nil, kernelerr.Wrap(kernelerr.Resource, err, "gpt: read partition array")
		}
	}
	array = array[:arrayBytes]

	if crc32.ChecksumIEEE(array) != arrayCRC {
		return nil, kernelerr.New(kernelerr.ProtocolMismatch, "gpt: partition array CRC mismatch")
	}

	var partitions []*Partition
	for i := uint32(0); i < numEntries; i++ {
		entry := array[uint64(i)*uint64(entrySize) : uint64(i)*uint64(entrySize)+uint64(entrySize)]
		typeGUID := decodeMixedEndianGUID(entry[0:16])
		if typeGUID == uuid.Nil.String() {
			continue // unused entry
		}
		partGUID := decodeMixedEndianGUID(entry[16:32])
		firstLBA := binary.LittleEndian.Uint64(entry[32:40])
		lastLBA := binary.LittleEndian.Uint64(entry[40:48])

		partitions = append(partitions, &Partition{
			Name:     gptPartitionName(dev.Name(), len(partitions)),
			StartLBA: firstLBA,
			// lastLBA is the entry's declared ending LBA, not an
			// inclusive final sector: length is the span between the
			// two boundaries.
			LengthLBA: lastLBA - firstLBA,
			TypeGUID:  typeGUID,
			PartGUID:  partGUID,
		})
	}
	return partitions, nil
}

// decodeMixedEndianGUID decodes a GPT GUID's mixed-endian wire encoding
// (the first three fields little-endian, the last two big-endian) using
// google/uuid's byte-for-byte constructors rather than hand-rolling the
// byte swap.
func decodeMixedEndianGUID(b []byte) string {
	var swapped [16]byte
	swapped[0], swapped[1], swapped[2], swapped[3] = b[3], b[2], b[1], b[0]
	swapped[4], swapped[5] = b[5], b[4]
	swapped[6], swapped[7] = b[7], b[6]
	copy(swapped[8:], b[8:16])
	id, err := uuid.FromBytes(swapped[:])
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}

// gptPartitionName implements the <disk>p<letters> scheme: index 0 is
// "a", 25 is "z", 26 is "aa", and so on.
func gptPartitionName(diskName string, index int) string {
	return fmt.Sprintf("%sp%s", diskName, letterSuffix(index))
}

func letterSuffix(index int) string {
	if index < 26 {
		return string(rune('a' + index))
	}
	return letterSuffix(index/26-1) + string(rune('a'+index%26))
}
