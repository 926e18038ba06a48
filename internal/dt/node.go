// Package dt parses and queries a Flattened Device Tree (FDT), the
// boot-time hardware topology description the driver manager, interrupt
// controller binding, and time subsystem attach against.
package dt

// Property is one {name, bytes} pair attached to a Node. The bytes are the
// opaque cell data exactly as it appeared in the flattened input; callers
// interpret them according to the property's well-known meaning (a u32 cell,
// a NUL-terminated string, a list of {addr,size} pairs sized by the node's
// inherited cell widths, and so on).
type Property struct {
	Name  string
	Value []byte
}

// Node is one device-tree node: a name, its own inherited cell widths, its
// properties in parse order, and links to its first child and next sibling
// (plus a Parent backlink used for cell-width inheritance and the
// reserved-memory "parent named reserved-memory" rule). DeviceData is the
// opaque, type-erased payload a driver's attach callback may store here;
// the node is the owner, the driver is responsible for downcasting it back.
type Node struct {
	Name string

	AddrCells uint32
	SizeCells uint32

	Properties []Property

	Parent      *Node
	FirstChild  *Node
	NextSibling *Node

	Phandle    uint32
	hasPhandle bool

	deviceData any
}

// Region is a {base, size} pair, the shape both /memory and
// /reserved-memory/* entries decode into.
type Region struct {
	Base uint64
	Size uint64
}

// Prop returns the named property's bytes and true, or (nil, false) if the
// node carries no property by that name. A present-but-empty property (an
// FDT "flag" property with zero-length value) returns a non-nil empty slice
// and true, distinguishing it from absence.
func (n *Node) Prop(name string) ([]byte, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			if p.Value == nil {
				return []byte{}, true
			}
			return p.Value, true
		}
	}
	return nil, false
}

// Children returns the node's children in parse order.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// SetDeviceData attaches the opaque per-node driver payload. An attach
// callback calls this at most once per node, per the data model's lifecycle
// rule.
func (n *Node) SetDeviceData(v any) {
	n.deviceData = v
}

// DeviceData retrieves the payload a driver's attach callback stored, or
// nil if none was ever set.
func (n *Node) DeviceData() any {
	return n.deviceData
}

// FirstProp and NextProp give callers an iterator-shaped query API
// (mirroring the C original's get-first-prop/get-next-prop pair) in
// addition to the more idiomatic Properties slice and Prop lookup.
func (n *Node) FirstProp() (Property, bool) {
	if len(n.Properties) == 0 {
		return Property{}, false
	}
	return n.Properties[0], true
}

func (n *Node) NextProp(after Property) (Property, bool) {
	for i, p := range n.Properties {
		if p.Name == after.Name && i+1 < len(n.Properties) {
			return n.Properties[i+1], true
		}
	}
	return Property{}, false
}
