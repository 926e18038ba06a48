package dt

import (
	"encoding/binary"
)

// Builder assembles a flattened device tree blob in memory. It is the
// encoder symmetric to Parse, grounded on the teacher codebase's
// internal/fdt/builder.go and build.go (which build a live hypervisor-
// facing FDT rather than a test fixture); here it exists so the parser's
// own tests can construct inputs without hand-assembling byte strings, and
// so a host harness can synthesize a tree to hand to a driver manager
// running without real firmware.
type Builder struct {
	root *nodeBuilder

	reserved []Region

	strings    []byte
	stringOffs map[string]uint32

	bootCPUIDPhy uint32
}

type nodeBuilder struct {
	name       string
	properties []Property
	children   []*nodeBuilder
}

// NewBuilder starts a builder for a tree whose root node has the given
// name (conventionally empty, per the FDT convention that the root node's
// name is the empty string).
func NewBuilder(rootName string) *Builder {
	b := &Builder{
		root:       &nodeBuilder{name: rootName},
		stringOffs: make(map[string]uint32),
	}
	return b
}

// AddReservedRegion appends an entry to the header memory-reservation
// block.
func (b *Builder) AddReservedRegion(base, size uint64) {
	b.reserved = append(b.reserved, Region{Base: base, Size: size})
}

// SetBootCPUID sets the header's boot-cpuid-phys field.
func (b *Builder) SetBootCPUID(id uint32) {
	b.bootCPUIDPhy = id
}

// NodeHandle identifies a node being built, so callers can add children or
// properties to it after creation without re-walking by path.
type NodeHandle struct {
	n *nodeBuilder
}

// Root returns a handle to the tree's root node.
func (b *Builder) Root() NodeHandle {
	return NodeHandle{n: b.root}
}

// AddChild appends a new child node under parent and returns a handle to
// it.
func (b *Builder) AddChild(parent NodeHandle, name string) NodeHandle {
	child := &nodeBuilder{name: name}
	parent.n.children = append(parent.n.children, child)
	return NodeHandle{n: child}
}

// AddProp attaches a raw-bytes property to the node.
func (b *Builder) AddProp(h NodeHandle, name string, value []byte) {
	h.n.properties = append(h.n.properties, Property{Name: name, Value: value})
}

// AddPropU32 attaches a single big-endian u32 cell property.
func (b *Builder) AddPropU32(h NodeHandle, name string, value uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	b.AddProp(h, name, buf)
}

// AddPropString attaches a NUL-terminated string property.
func (b *Builder) AddPropString(h NodeHandle, name, value string) {
	b.AddProp(h, name, append([]byte(value), 0))
}

// AddPropReg attaches a reg property encoding a single {base, size} entry
// at the given cell widths.
func (b *Builder) AddPropReg(h NodeHandle, addrCells, sizeCells uint32, base, size uint64) {
	buf := make([]byte, 4*int(addrCells+sizeCells))
	writeCells(buf, 0, addrCells, base)
	writeCells(buf, int(addrCells)*4, sizeCells, size)
	b.AddProp(h, "reg", buf)
}

func writeCells(buf []byte, off int, cells uint32, v uint64) {
	for i := int(cells) - 1; i >= 0; i-- {
		binary.BigEndian.PutUint32(buf[off+i*4:off+i*4+4], uint32(v))
		v >>= 32
	}
}

func (b *Builder) internString(s string) uint32 {
	if off, ok := b.stringOffs[s]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.strings = append(b.strings, []byte(s)...)
	b.strings = append(b.strings, 0)
	b.stringOffs[s] = off
	return off
}

// Build serializes the tree into a flattened device tree blob.
func (b *Builder) Build() []byte {
	var structs []byte
	structs = b.encodeNode(structs, b.root)
	structs = appendU32(structs, tokenEnd)

	rsvmap := make([]byte, 0, 16*(len(b.reserved)+1))
	for _, r := range b.reserved {
		rsvmap = appendU64(rsvmap, r.Base)
		rsvmap = appendU64(rsvmap, r.Size)
	}
	rsvmap = appendU64(rsvmap, 0)
	rsvmap = appendU64(rsvmap, 0)

	offMemRsvmap := uint32(headerSize)
	offStructs := offMemRsvmap + uint32(len(rsvmap))
	offStrings := offStructs + uint32(len(structs))
	total := offStrings + uint32(len(b.strings))

	out := make([]byte, headerSize)
	be := binary.BigEndian
	be.PutUint32(out[0:4], magic)
	be.PutUint32(out[4:8], total)
	be.PutUint32(out[8:12], offStructs)
	be.PutUint32(out[12:16], offStrings)
	be.PutUint32(out[16:20], offMemRsvmap)
	be.PutUint32(out[20:24], 17) // version
	be.PutUint32(out[24:28], 16) // last-compatible version
	be.PutUint32(out[28:32], b.bootCPUIDPhy)
	be.PutUint32(out[32:36], uint32(len(b.strings)))
	be.PutUint32(out[36:40], uint32(len(structs)))

	out = append(out, rsvmap...)
	out = append(out, structs...)
	out = append(out, b.strings...)
	return out
}

func (b *Builder) encodeNode(out []byte, n *nodeBuilder) []byte {
	out = appendU32(out, tokenBeginNode)
	out = append(out, []byte(n.name)...)
	out = append(out, 0)
	out = padTo4(out)

	for _, p := range n.properties {
		out = appendU32(out, tokenProp)
		out = appendU32(out, uint32(len(p.Value)))
		out = appendU32(out, b.internString(p.Name))
		out = append(out, p.Value...)
		out = padTo4(out)
	}

	for _, c := range n.children {
		out = b.encodeNode(out, c)
	}

	out = appendU32(out, tokenEndNode)
	return out
}

func appendU32(out []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(out, buf[:]...)
}

func appendU64(out []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(out, buf[:]...)
}

func padTo4(out []byte) []byte {
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
