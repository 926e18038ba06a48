// Package driver implements the driver manager: the depth-first walk that
// matches device-tree nodes against registered drivers by their
// "compatible" string and calls each match's Probe callback.
//
// Grounded on the teacher codebase's internal/chipset package (chipset.go,
// builder.go): the registration-by-name map, the "verb: %w" error-wrap
// convention, and the sorted-name iteration for deterministic fan-out are
// carried over from ChipsetBuilder/Chipset. The matching semantics
// themselves (status gating, compatible exact match, continue-on-error)
// come from the specification, which chipset has no analogue for — a
// hypervisor's chipset is statically wired in Go, not matched against a
// boot-time hardware description.
package driver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tinyrange/roOs/internal/dt"
	"github.com/tinyrange/roOs/internal/klog"
)

// Record is one registered driver: the compatible strings it claims and
// the callback invoked when a node matches one of them.
type Record struct {
	Name       string
	Compatible []string
	Probe      func(n *dt.Node) error
}

// Manager holds the set of registered drivers and walks a device tree
// matching nodes against them.
type Manager struct {
	logger klog.Logger

	byCompatible map[string]*Record
	order        []*Record
}

// NewManager returns an empty Manager. A nil logger uses klog.Default().
func NewManager(logger klog.Logger) *Manager {
	if logger == nil {
		logger = klog.Default()
	}
	return &Manager{
		logger:       logger,
		byCompatible: make(map[string]*Record),
	}
}

// Register adds a driver record. Drivers typically call this from an
// init() function against a package-level Manager built at startup,
// mirroring the teacher's ChipsetBuilder.RegisterDevice registration
// style, generalized here to multiple compatible strings per driver.
func (m *Manager) Register(r *Record) error {
	if r == nil {
		return driverErrorf("register: nil record")
	}
	if r.Name == "" {
		return driverErrorf("register: driver name is empty")
	}
	if r.Probe == nil {
		return driverErrorf("register %q: probe is nil", r.Name)
	}
	if len(r.Compatible) == 0 {
		return driverErrorf("register %q: no compatible strings", r.Name)
	}
	for _, c := range r.Compatible {
		if _, exists := m.byCompatible[c]; exists {
			return driverErrorf("register %q: compatible %q already claimed", r.Name, c)
		}
	}
	for _, c := range r.Compatible {
		m.byCompatible[c] = r
	}
	m.order = append(m.order, r)
	return nil
}

// Registered returns the registered driver names in registration order.
func (m *Manager) Registered() []string {
	names := make([]string, 0, len(m.order))
	for _, r := range m.order {
		names = append(names, r.Name)
	}
	return names
}

// Walk performs a depth-first pre-order traversal of the tree rooted at
// root, matching each visited node's "compatible" property against
// registered drivers. A node whose "status" property is present and not
// exactly "okay" (NUL included, matching the FDT's raw string encoding)
// has its entire subtree skipped without being visited at all. A node
// with no compatible match, or whose matched driver's Probe returns an
// error, is logged and the walk continues — a single failing device never
// aborts the walk.
func (m *Manager) Walk(root *dt.Node) {
	m.walk(root)
}

func (m *Manager) walk(n *dt.Node) {
	if status, ok := n.Prop("status"); ok {
		if string(status) != "okay\x00" && string(status) != "okay" {
			m.logger.Info("driver", "skipping node %q and its subtree: status=%q", n.Name, strings.TrimRight(string(status), "\x00"))
			return
		}
	}

	m.probeNode(n)

	for _, c := range sortedChildren(n) {
		m.walk(c)
	}
}

// probeNode matches n against the registered drivers' compatible lists.
// A node's "compatible" property in a real FDT is a list of NUL-terminated
// strings tried in priority order; the first registered match wins.
func (m *Manager) probeNode(n *dt.Node) {
	compat, ok := n.Prop("compatible")
	if !ok {
		return
	}

	for _, candidate := range splitCompatible(compat) {
		rec, ok := m.byCompatible[candidate]
		if !ok {
			continue
		}
		if err := rec.Probe(n); err != nil {
			m.logger.Error("driver", "probe %q for node %q failed: %v", rec.Name, n.Name, err)
			return
		}
		m.logger.Info("driver", "attached %q to node %q", rec.Name, n.Name)
		return
	}

	m.logger.Error("driver", "no driver claims node %q (compatible=%q)", n.Name, splitCompatible(compat))
}

func splitCompatible(raw []byte) []string {
	s := strings.TrimRight(string(raw), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

// sortedChildren returns n's children ordered by name, for deterministic
// fan-out matching the teacher's deviceNames() sorted iteration.
func sortedChildren(n *dt.Node) []*dt.Node {
	children := n.Children()
	sort.SliceStable(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children
}

func driverErrorf(format string, args ...any) error {
	return &driverError{msg: fmt.Sprintf(format, args...)}
}

type driverError struct{ msg string }

func (e *driverError) Error() string { return "driver: " + e.msg }
