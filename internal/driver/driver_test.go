package driver

import (
	"errors"
	"testing"

	"github.com/tinyrange/roOs/internal/dt"
)

func buildTestTree(t *testing.T) *dt.Node {
	t.Helper()
	b := dt.NewBuilder("")
	root := b.Root()
	b.AddPropU32(root, "#address-cells", 2)
	b.AddPropU32(root, "#size-cells", 1)

	uart := b.AddChild(root, "uart@1000")
	b.AddPropString(uart, "compatible", "vendor,uart")
	b.AddPropString(uart, "status", "okay")

	disabled := b.AddChild(root, "disabled-dev@2000")
	b.AddPropString(disabled, "compatible", "vendor,disabled")
	b.AddPropString(disabled, "status", "disabled")
	b.AddChild(disabled, "child-of-disabled")

	unmatched := b.AddChild(root, "unknown@3000")
	b.AddPropString(unmatched, "compatible", "vendor,unknown-device")

	tree, err := dt.Parse(b.Build(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tree.Root()
}

func TestWalkMatchesCompatibleAndSkipsDisabled(t *testing.T) {
	root := buildTestTree(t)

	var probed []string
	m := NewManager(nil)
	if err := m.Register(&Record{
		Name:       "uart",
		Compatible: []string{"vendor,uart"},
		Probe: func(n *dt.Node) error {
			probed = append(probed, n.Name)
			n.SetDeviceData("uart-handle")
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(&Record{
		Name:       "disabled-driver",
		Compatible: []string{"vendor,disabled"},
		Probe: func(n *dt.Node) error {
			probed = append(probed, n.Name)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.Walk(root)

	if len(probed) != 1 || probed[0] != "uart@1000" {
		t.Fatalf("probed = %v, want only uart@1000 (disabled subtree must be skipped)", probed)
	}

	uart, ok := root.Children()[0], true
	_ = ok
	if uart.DeviceData() != "uart-handle" {
		t.Fatalf("uart device data = %v", uart.DeviceData())
	}
}

func TestWalkContinuesAfterProbeError(t *testing.T) {
	root := buildTestTree(t)

	var visited []string
	m := NewManager(nil)
	m.Register(&Record{
		Name:       "uart",
		Compatible: []string{"vendor,uart"},
		Probe: func(n *dt.Node) error {
			visited = append(visited, n.Name)
			return errors.New("probe failed")
		},
	})

	m.Walk(root) // must not panic despite the probe error
	if len(visited) != 1 {
		t.Fatalf("visited = %v, want exactly one attempt", visited)
	}
}

func TestRegisterRejectsDuplicateCompatible(t *testing.T) {
	m := NewManager(nil)
	rec := &Record{Name: "a", Compatible: []string{"vendor,x"}, Probe: func(*dt.Node) error { return nil }}
	if err := m.Register(rec); err != nil {
		t.Fatalf("first register: %v", err)
	}
	dup := &Record{Name: "b", Compatible: []string{"vendor,x"}, Probe: func(*dt.Node) error { return nil }}
	if err := m.Register(dup); err == nil {
		t.Fatalf("expected error registering duplicate compatible string")
	}
}
