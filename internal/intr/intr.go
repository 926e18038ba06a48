// Package intr implements the interrupt controller abstraction (ICA): a
// vector table with register/remove/disable/restore nesting semantics and
// dispatch through a single, replaceable controller driver.
//
// Grounded on the teacher codebase's internal/chipset/lineset.go (a
// mutex-guarded table keyed by line/vector number, with handler callbacks
// invoked outside the lock) and device.go (a small interface a concrete
// driver implements, swappable at the chipset level). Reserved vectors and
// the disable/restore saved-state bit are specification-only
// concepts lineset.go has no analogue for — a hypervisor's chipset always
// has IRQs enabled, it never needs to simulate a CPU's interrupt-disable
// flag.
package intr

import (
	"sync"

	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/klog"
)

// Reserved vector numbers the table will not hand out to Register.
const (
	VectorPanic       = 0x20
	VectorMaxSpurious = 0xFF
	VectorPICMaster   = 0x27
	VectorPICSlave    = 0x2F
)

// MinVec and MaxVec bound the range Register will hand out. Vectors below
// MinVec belong to the CPU's own exception table (divide-by-zero, double
// fault, and the rest of the low 32 entries on x86); a driver probe that
// asks for one of those is misconfigured, not just unlucky about overlap
// with a reserved vector.
const (
	MinVec = 0x20
	MaxVec = 0xFE
)

// Handler is invoked when a vector is dispatched. line is the hardware
// line number supplied by the controller (see Controller.GetInterruptLine).
type Handler func(line uint8)

// Controller is the vtable a single bound interrupt controller driver
// implements. Exactly one Controller is bound to a Table at a time; a
// second Bind before Unbind is a programming error the specification
// calls fatal.
type Controller interface {
	// SetIRQMask enables or disables the given line at the hardware level.
	SetIRQMask(line uint8, masked bool)
	// SetEOI signals end-of-interrupt for the given vector.
	SetEOI(vector uint8)
	// IsSpurious reports whether the given vector is this controller's
	// spurious-interrupt sentinel (e.g. the 8259 PIC's master/slave
	// spurious offsets, or an APIC's reserved spurious vector).
	IsSpurious(vector uint8) bool
	// GetInterruptLine maps a dispatched vector to the hardware line
	// number passed to the matched Handler.
	GetInterruptLine(vector uint8) uint8
}

type registration struct {
	handler Handler
	masked  bool
}

// Table is the interrupt vector table: the register/remove/disable/
// restore bookkeeping plus dispatch through the bound Controller.
type Table struct {
	mu sync.Mutex

	logger klog.Logger

	controller Controller

	vectors map[uint8]*registration

	// masked tracks whether Disable has masked every line. It starts
	// false: the specification requires IRQs enabled from the moment the
	// table is constructed. Unlike a depth counter, nested Disable/
	// Restore pairs don't need their own count here — each Disable
	// captures the IF bit as it was immediately before that call, and
	// restoring that saved bit is what LIFO-unwinds correctly, the same
	// way cli/pushf/popf works on real hardware.
	masked bool
}

// NewTable returns an interrupt table with no bound controller. Register
// before Bind returns kernelerr.NotSupported; Dispatch before Bind logs an
// error and returns without calling any handler.
func NewTable(logger klog.Logger) *Table {
	if logger == nil {
		logger = klog.Default()
	}
	return &Table{
		logger:  logger,
		vectors: make(map[uint8]*registration),
	}
}

// Bind attaches the single controller driver backing this table. Binding
// a second controller without an intervening Unbind is fatal.
func (t *Table) Bind(c Controller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.controller != nil {
		kernelerr.Panic("intr: controller already bound")
	}
	t.controller = c
}

// Unbind detaches the currently bound controller, if any.
func (t *Table) Unbind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controller = nil
}

func isReserved(vector uint8) bool {
	switch vector {
	case VectorPanic, VectorMaxSpurious, VectorPICMaster, VectorPICSlave:
		return true
	default:
		return false
	}
}

// Register installs handler for vector. Registering a reserved vector, a
// vector that already has a handler, or registering with no bound
// controller, returns an error rather than panicking: unlike a duplicate
// Bind, a duplicate Register is a recoverable driver-probe mistake.
func (t *Table) Register(vector uint8, handler Handler) error {
	if handler == nil {
		return kernelerr.New(kernelerr.InvalidArgument, "intr: nil handler for vector 0x%x", vector)
	}
	if isReserved(vector) {
		return kernelerr.New(kernelerr.InvalidArgument, "intr: vector 0x%x is reserved", vector)
	}
	if vector < MinVec || vector > MaxVec {
		return kernelerr.New(kernelerr.InvalidArgument, "intr: vector 0x%x outside [0x%x, 0x%x]", vector, MinVec, MaxVec)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.controller == nil {
		return kernelerr.New(kernelerr.NotSupported, "intr: no controller bound")
	}
	if _, exists := t.vectors[vector]; exists {
		return kernelerr.New(kernelerr.AlreadyExists, "intr: vector 0x%x already registered", vector)
	}

	t.vectors[vector] = &registration{handler: handler}
	t.controller.SetIRQMask(t.controller.GetInterruptLine(vector), false)
	t.logger.Info("intr", "registered handler for vector 0x%x", vector)
	return nil
}

// Remove uninstalls the handler for vector, masking its line at the
// controller.
func (t *Table) Remove(vector uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, exists := t.vectors[vector]
	if !exists {
		return kernelerr.New(kernelerr.NotFound, "intr: vector 0x%x not registered", vector)
	}
	_ = reg
	delete(t.vectors, vector)
	if t.controller != nil {
		t.controller.SetIRQMask(t.controller.GetInterruptLine(vector), true)
	}
	t.logger.Info("intr", "removed handler for vector 0x%x", vector)
	return nil
}

// Disable masks every registered vector and returns the prior IF bit: 1
// if interrupts were enabled before this call, 0 if a previous Disable
// had already masked them. Pass the return value to Restore to undo
// exactly this call, in LIFO order with any nested Disable/Restore pairs.
func (t *Table) Disable() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasEnabled := !t.masked
	if wasEnabled {
		t.maskAllLocked(true)
		t.masked = true
	}
	if wasEnabled {
		return 1
	}
	return 0
}

// Restore undoes one Disable. saved is the IF bit Disable returned:
// Restore(0) is a no-op (interrupts were already disabled before the
// matching Disable, so leave them that way), and any nonzero value
// unmasks every registered vector again.
func (t *Table) Restore(saved int) {
	if saved == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.masked {
		t.maskAllLocked(false)
		t.masked = false
	}
}

func (t *Table) maskAllLocked(masked bool) {
	if t.controller == nil {
		return
	}
	for vector, reg := range t.vectors {
		reg.masked = masked
		t.controller.SetIRQMask(t.controller.GetInterruptLine(vector), masked)
	}
}

// Dispatch runs the controller's is-spurious check, looks up the
// registered handler for the vector, invokes it, and signals EOI — in
// that order, per the specification's dispatch sequence. A spurious
// vector terminates dispatch immediately without calling SetEOI: the
// controller already handles EOI internally for its own spurious
// sentinel. An unregistered (but non-spurious) vector still reaches
// SetEOI, since the controller must be acknowledged once a real vector
// is taken off the bus.
func (t *Table) Dispatch(vector uint8) {
	t.mu.Lock()
	controller := t.controller
	var reg *registration
	var spurious bool
	if controller != nil {
		spurious = controller.IsSpurious(vector)
		if !spurious {
			reg = t.vectors[vector]
		}
	}
	t.mu.Unlock()

	if controller == nil {
		t.logger.Error("intr", "dispatch on vector 0x%x with no bound controller", vector)
		return
	}

	if spurious {
		t.logger.Debug("intr", "spurious vector 0x%x", vector)
		return
	}

	if reg == nil {
		t.logger.Error("intr", "no handler registered for vector 0x%x", vector)
		controller.SetEOI(vector)
		return
	}

	line := controller.GetInterruptLine(vector)
	reg.handler(line)
	controller.SetEOI(vector)
}
