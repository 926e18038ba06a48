package intr

import (
	"testing"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

type fakeController struct {
	masked        map[uint8]bool
	eoiCount      map[uint8]int
	spuriousVec   uint8
	lineForVector map[uint8]uint8
}

func newFakeController() *fakeController {
	return &fakeController{
		masked:        make(map[uint8]bool),
		eoiCount:      make(map[uint8]int),
		spuriousVec:   0xff,
		lineForVector: make(map[uint8]uint8),
	}
}

func (c *fakeController) SetIRQMask(line uint8, masked bool) { c.masked[line] = masked }
func (c *fakeController) SetEOI(vector uint8)                { c.eoiCount[vector]++ }
func (c *fakeController) IsSpurious(vector uint8) bool       { return vector == c.spuriousVec }
func (c *fakeController) GetInterruptLine(vector uint8) uint8 {
	if line, ok := c.lineForVector[vector]; ok {
		return line
	}
	return vector
}

func TestRegisterRejectsReservedVector(t *testing.T) {
	table := NewTable(nil)
	table.Bind(newFakeController())

	if err := table.Register(VectorPanic, func(uint8) {}); err == nil {
		t.Fatalf("expected error registering reserved vector")
	}
}

func TestRegisterRejectsOutOfRangeVector(t *testing.T) {
	table := NewTable(nil)
	table.Bind(newFakeController())

	err := table.Register(0x05, func(uint8) {})
	if err == nil {
		t.Fatalf("expected error registering a vector below MinVec")
	}
	if !kernelerr.Is(err, kernelerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for a vector below MinVec, got %v", err)
	}
}

func TestDispatchSequenceLookupThenEOI(t *testing.T) {
	c := newFakeController()
	table := NewTable(nil)
	table.Bind(c)

	var firedLine uint8
	if err := table.Register(0x30, func(line uint8) { firedLine = line }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	table.Dispatch(0x30)

	if firedLine != 0x30 {
		t.Fatalf("handler fired with line %x, want 0x30", firedLine)
	}
	if c.eoiCount[0x30] != 1 {
		t.Fatalf("EOI count = %d, want 1", c.eoiCount[0x30])
	}
}

func TestDispatchSpuriousSkipsHandlerAndEOI(t *testing.T) {
	c := newFakeController()
	table := NewTable(nil)
	table.Bind(c)

	called := false
	if err := table.Register(0xff, func(uint8) { called = true }); err == nil {
		t.Fatalf("0xff should be rejected as reserved, registration unexpectedly succeeded")
	}

	table.Dispatch(0xff)
	if called {
		t.Fatalf("handler should not fire for spurious vector")
	}
	if c.eoiCount[0xff] != 0 {
		t.Fatalf("EOI count = %d, want 0: the controller handles EOI internally for spurious vectors", c.eoiCount[0xff])
	}
}

func TestDisableRestoreNesting(t *testing.T) {
	c := newFakeController()
	table := NewTable(nil)
	table.Bind(c)

	if err := table.Register(0x40, func(uint8) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s1 := table.Disable()
	s2 := table.Disable()
	if !c.masked[0x40] {
		t.Fatalf("line should be masked after first Disable")
	}

	table.Restore(s2)
	if !c.masked[0x40] {
		t.Fatalf("line should remain masked: outer Disable still active")
	}

	table.Restore(s1)
	if c.masked[0x40] {
		t.Fatalf("line should be unmasked once nesting returns to zero")
	}
}

func TestRestoreZeroIsNoop(t *testing.T) {
	c := newFakeController()
	table := NewTable(nil)
	table.Bind(c)
	table.Register(0x41, func(uint8) {})

	table.Disable()
	table.Restore(0)
	if !c.masked[0x41] {
		t.Fatalf("Restore(0) must be a no-op; line should still be masked")
	}
}

func TestBindTwiceIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic binding a second controller")
		}
	}()
	table := NewTable(nil)
	table.Bind(newFakeController())
	table.Bind(newFakeController())
}
