package dt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FixtureSpec is a YAML-described device tree fixture, letting tests
// describe a tree as data instead of a sequence of Builder calls. Grounded on the teacher codebase's
// examples/shared/testrunner/spec.go, which loads its own YAML-tagged
// TestSpec the same way: yaml.Unmarshal into a struct of plain Go types,
// no custom decoder.
type FixtureSpec struct {
	AddressCells uint32         `yaml:"address_cells"`
	SizeCells    uint32         `yaml:"size_cells"`
	Reserved     []ReservedSpec `yaml:"reserved,omitempty"`
	Nodes        []FixtureNode  `yaml:"nodes"`
}

// ReservedSpec describes one header memory-reservation entry.
type ReservedSpec struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// FixtureNode describes one device-tree node and its children.
type FixtureNode struct {
	Name       string            `yaml:"name"`
	Compatible string            `yaml:"compatible,omitempty"`
	Status     string            `yaml:"status,omitempty"`
	Reg        *FixtureReg       `yaml:"reg,omitempty"`
	Props      map[string]string `yaml:"props,omitempty"`
	PropsU32   map[string]uint32 `yaml:"props_u32,omitempty"`
	Phandle    uint32            `yaml:"phandle,omitempty"`
	Children   []FixtureNode     `yaml:"children,omitempty"`
}

// FixtureReg describes a single reg entry at the node's own declared
// cell widths (defaulting to the parent's, like a real FDT).
type FixtureReg struct {
	AddrCells uint32 `yaml:"address_cells,omitempty"`
	SizeCells uint32 `yaml:"size_cells,omitempty"`
	Base      uint64 `yaml:"base"`
	Size      uint64 `yaml:"size"`
}

// LoadFixture reads a YAML fixture file and builds a flattened device
// tree blob from it.
func LoadFixture(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dt: read fixture %q: %w", path, err)
	}
	return BuildFixture(data)
}

// BuildFixture decodes YAML-encoded fixture bytes and builds a flattened
// device tree blob from it.
func BuildFixture(yamlData []byte) ([]byte, error) {
	var spec FixtureSpec
	if err := yaml.Unmarshal(yamlData, &spec); err != nil {
		return nil, fmt.Errorf("dt: decode fixture: %w", err)
	}

	b := NewBuilder("")
	root := b.Root()
	addrCells := spec.AddressCells
	if addrCells == 0 {
		addrCells = defaultAddrCells
	}
	sizeCells := spec.SizeCells
	if sizeCells == 0 {
		sizeCells = defaultSizeCells
	}
	b.AddPropU32(root, "#address-cells", addrCells)
	b.AddPropU32(root, "#size-cells", sizeCells)

	for _, r := range spec.Reserved {
		b.AddReservedRegion(r.Base, r.Size)
	}
	for _, n := range spec.Nodes {
		addFixtureNode(b, root, n, addrCells, sizeCells)
	}

	return b.Build(), nil
}

func addFixtureNode(b *Builder, parent NodeHandle, spec FixtureNode, parentAddrCells, parentSizeCells uint32) {
	h := b.AddChild(parent, spec.Name)

	if spec.Compatible != "" {
		b.AddPropString(h, "compatible", spec.Compatible)
	}
	if spec.Status != "" {
		b.AddPropString(h, "status", spec.Status)
	}
	if spec.Phandle != 0 {
		b.AddPropU32(h, "phandle", spec.Phandle)
	}
	for name, value := range spec.Props {
		b.AddPropString(h, name, value)
	}
	for name, value := range spec.PropsU32 {
		b.AddPropU32(h, name, value)
	}

	addrCells, sizeCells := parentAddrCells, parentSizeCells
	if spec.Reg != nil {
		ac, sc := spec.Reg.AddrCells, spec.Reg.SizeCells
		if ac == 0 {
			ac = parentAddrCells
		}
		if sc == 0 {
			sc = parentSizeCells
		}
		b.AddPropReg(h, ac, sc, spec.Reg.Base, spec.Reg.Size)
	}

	for _, child := range spec.Children {
		addFixtureNode(b, h, child, addrCells, sizeCells)
	}
}
