package dt

import (
	"testing"
)

func buildSimpleTree() *Builder {
	b := NewBuilder("")
	root := b.Root()
	b.AddPropU32(root, "#address-cells", 2)
	b.AddPropU32(root, "#size-cells", 1)

	memory := b.AddChild(root, "memory@40000000")
	b.AddPropString(memory, "device_type", "memory")
	b.AddPropReg(memory, 2, 1, 0x40000000, 0x10000000)

	reservedMemory := b.AddChild(root, "reserved-memory")
	b.AddPropU32(reservedMemory, "#address-cells", 2)
	b.AddPropU32(reservedMemory, "#size-cells", 1)
	carveout := b.AddChild(reservedMemory, "carveout@50000000")
	b.AddPropReg(carveout, 2, 1, 0x50000000, 0x1000)

	cpu := b.AddChild(root, "cpu@0")
	b.AddPropString(cpu, "compatible", "arm,cortex-a53")
	b.AddPropU32(cpu, "phandle", 1)

	b.AddReservedRegion(0x1000, 0x2000)
	return b
}

func TestParseRoundTrip(t *testing.T) {
	blob := buildSimpleTree().Build()

	tree, err := Parse(blob, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	root := tree.Root()
	if len(root.Children()) != 3 {
		t.Fatalf("root has %d children, want 3", len(root.Children()))
	}

	cpu, ok := tree.LookupByName("cpu@0")
	if !ok {
		t.Fatalf("cpu@0 not found")
	}
	compat, ok := cpu.Prop("compatible")
	if !ok || string(compat) != "arm,cortex-a53\x00" {
		t.Fatalf("compatible = %q, %v", compat, ok)
	}
}

func TestParseCellInheritance(t *testing.T) {
	tree, err := Parse(buildSimpleTree().Build(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	memory, ok := tree.LookupByName("memory@40000000")
	if !ok {
		t.Fatalf("memory node not found")
	}
	if memory.Parent.AddrCells != 2 || memory.Parent.SizeCells != 1 {
		t.Fatalf("root cells = %d/%d, want 2/1", memory.Parent.AddrCells, memory.Parent.SizeCells)
	}

	regions := tree.MemoryRegions()
	if len(regions) != 1 {
		t.Fatalf("got %d memory regions, want 1", len(regions))
	}
	if regions[0].Base != 0x40000000 || regions[0].Size != 0x10000000 {
		t.Fatalf("region = %+v", regions[0])
	}
}

func TestParsePhandleBijection(t *testing.T) {
	tree, err := Parse(buildSimpleTree().Build(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	n, ok := tree.LookupByPhandle(1)
	if !ok {
		t.Fatalf("phandle 1 not registered")
	}
	if n.Name != "cpu@0" {
		t.Fatalf("phandle 1 resolved to %q, want cpu@0", n.Name)
	}
}

func TestParseReservedRegions(t *testing.T) {
	tree, err := Parse(buildSimpleTree().Build(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	regions := tree.ReservedRegions()
	if len(regions) != 2 {
		t.Fatalf("got %d reserved regions, want 2 (1 header + 1 reserved-memory child)", len(regions))
	}

	var sawHeader, sawChild bool
	for _, r := range regions {
		switch {
		case r.Base == 0x1000 && r.Size == 0x2000:
			sawHeader = true
		case r.Base == 0x50000000 && r.Size == 0x1000:
			sawChild = true
		}
	}
	if !sawHeader || !sawChild {
		t.Fatalf("regions = %+v, missing header or reserved-memory entry", regions)
	}
}

func TestParseBadMagicIsFatal(t *testing.T) {
	blob := buildSimpleTree().Build()
	blob[0] = 0xff

	_, err := Parse(blob, nil)
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestParsePropAbsentVsEmpty(t *testing.T) {
	b := NewBuilder("")
	root := b.Root()
	b.AddPropU32(root, "#address-cells", 2)
	b.AddPropU32(root, "#size-cells", 1)
	node := b.AddChild(root, "flagged")
	b.AddProp(node, "enabled", nil)

	tree, err := Parse(b.Build(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	n, ok := tree.LookupByName("flagged")
	if !ok {
		t.Fatalf("flagged node not found")
	}

	if v, ok := n.Prop("enabled"); !ok || v == nil {
		t.Fatalf("enabled prop = %v, %v; want non-nil empty slice, true", v, ok)
	}
	if _, ok := n.Prop("missing"); ok {
		t.Fatalf("missing prop reported present")
	}
}
