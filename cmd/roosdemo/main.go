// Command roosdemo is a host-side harness for exercising the kernel core
// packages outside of a real boot image: it parses a device tree blob
// (or synthesizes one), walks it with the driver manager, stands up an
// interrupt table and time subsystem against host-backed stand-ins, and
// mounts a VFS with an optional disk-backed partition scan.
//
// Grounded on the teacher codebase's cmd/cc/main.go: flag-driven startup,
// "roosdemo: %v" error reporting to stderr with os.Exit(1), matching the
// teacher's "cc: %v" convention.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/roOs/internal/disk"
	"github.com/tinyrange/roOs/internal/driver"
	"github.com/tinyrange/roOs/internal/dt"
	"github.com/tinyrange/roOs/internal/intr"
	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/klog"
	"github.com/tinyrange/roOs/internal/timer"
	"github.com/tinyrange/roOs/internal/vfs"
)

func main() {
	if err := run(); err != nil {
		if kind, ok := kernelerr.KindOf(err); ok {
			fmt.Fprintf(os.Stderr, "roosdemo: %v (kind=%s)\n", err, kind)
		} else {
			fmt.Fprintf(os.Stderr, "roosdemo: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		dtbPath   = flag.String("dtb", "", "path to a flattened device tree blob (if empty, a built-in fixture is used)")
		debugFile = flag.String("debug-file", "", "path to write a binary trace log to")
		verbose   = flag.Bool("verbose", false, "enable debug-level logging")
		osdir     = flag.String("osdir", "", "host directory to mount at /host in the demo VFS")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	klog.SetDefault(klog.NewSlog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))

	if *debugFile != "" {
		if err := klog.OpenTraceFile(*debugFile); err != nil {
			return fmt.Errorf("open debug file: %w", err)
		}
		defer klog.CloseTrace()
	}

	tree, err := loadTree(*dtbPath)
	if err != nil {
		return err
	}

	mgr := driver.NewManager(nil)
	registerBuiltinDrivers(mgr)
	mgr.Walk(tree.Root())

	table := intr.NewTable(nil)
	table.Bind(&nopController{})

	registry := timer.NewRegistry(nil)
	if err := registry.Register(timer.RoleMain, timer.NewHostDriver(1_000_000)); err != nil {
		return err
	}
	if err := registry.Register(timer.RoleLifetime, timer.NewHostLifetimeDriver()); err != nil {
		return err
	}
	if err := registry.Register(timer.RoleRTC, timer.NewHostRTCDriver()); err != nil {
		return err
	}
	date, err := registry.GetDate()
	if err != nil {
		return err
	}

	mount := vfs.New()
	if *osdir != "" {
		if err := mount.Register("/host", vfs.NewOSDirDriver(*osdir)); err != nil {
			return err
		}
	}

	diskMgr := disk.NewManager(mount, nil)
	if err := diskMgr.Discover(context.Background()); err != nil {
		return err
	}

	klog.Info("roosdemo", "boot complete: %d drivers registered, uptime=%dns, rtc date=%04d-%02d-%02d",
		len(mgr.Registered()), registry.UptimeNanos(), date.Year, date.Month, date.Day)
	return nil
}

func loadTree(path string) (*dt.Tree, error) {
	if path == "" {
		return dt.Parse(builtinFixture(), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device tree blob: %w", err)
	}
	return dt.Parse(data, nil)
}

// builtinFixture synthesizes a minimal tree using dt.Builder, for running
// the demo without a real firmware-supplied blob.
func builtinFixture() []byte {
	b := dt.NewBuilder("")
	root := b.Root()
	b.AddPropU32(root, "#address-cells", 2)
	b.AddPropU32(root, "#size-cells", 1)

	memory := b.AddChild(root, "memory@40000000")
	b.AddPropString(memory, "device_type", "memory")
	b.AddPropReg(memory, 2, 1, 0x40000000, 0x20000000)

	uart := b.AddChild(root, "uart@9000000")
	b.AddPropString(uart, "compatible", "roos,uart")
	b.AddPropString(uart, "status", "okay")

	return b.Build()
}

func registerBuiltinDrivers(mgr *driver.Manager) {
	mgr.Register(&driver.Record{
		Name:       "roos,uart",
		Compatible: []string{"roos,uart"},
		Probe: func(n *dt.Node) error {
			n.SetDeviceData("uart-console")
			return nil
		},
	})
}

// nopController is a Controller stand-in for demo boots that never take a
// real interrupt: every vector reports unmasked, non-spurious, identity
// line mapping.
type nopController struct{}

func (nopController) SetIRQMask(line uint8, masked bool)  {}
func (nopController) SetEOI(vector uint8)                 {}
func (nopController) IsSpurious(vector uint8) bool        { return false }
func (nopController) GetInterruptLine(vector uint8) uint8 { return vector }
