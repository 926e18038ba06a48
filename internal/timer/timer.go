// Package timer implements the time subsystem: role-based timer driver
// registration, the uptime-ns contract, per-CPU tick counters, and a
// busy-wait primitive for code paths that cannot rely on the scheduler.
//
// Grounded on the teacher codebase's internal/devices/hpet package: the
// mutex-guarded counter plus time.Now()-delta tick accrual in
// updateCounterLocked is the same technique timer.Driver implementations
// here use to turn wall-clock reads into tick counts. The role table
// (MAIN/RTC/AUX/LIFETIME) and the uptime-ns selection rule have no
// analogue in hpet.Device, which is a single fixed-function guest device;
// they come from the specification's abstraction over multiple
// simultaneously-registered timer drivers.
package timer

import (
	"sync"
	"time"

	"github.com/tinyrange/roOs/internal/kernelerr"
	"github.com/tinyrange/roOs/internal/klog"
)

// Role classifies a registered timer driver's purpose. At most one driver
// may hold each of the MAIN, RTC and LIFETIME roles at a time; AUX admits
// any number of simultaneous holders.
type Role int

const (
	RoleMain Role = iota
	RoleRTC
	RoleAux
	RoleLifetime
)

// Driver is a timer device: it reports its tick frequency and the current
// tick count, can have its frequency reprogrammed, can be masked and
// unmasked at the hardware level, and can be told to wait without
// yielding to the scheduler.
type Driver interface {
	// FrequencyHz returns the driver's tick rate.
	FrequencyHz() uint64
	// SetFrequency reprograms the driver's tick rate.
	SetFrequency(hz uint64) error
	// Ticks returns the current free-running tick count.
	Ticks() uint64
	// WaitNoSched busy-waits for approximately the given duration without
	// relinquishing the CPU, for boot-time code that runs before the
	// scheduler exists.
	WaitNoSched(d time.Duration)
	// SetIRQMask masks or unmasks this driver's underlying IRQ line.
	SetIRQMask(masked bool) error
}

// LifetimeDriver is a Driver whose Ticks already reports elapsed
// nanoseconds directly (a true free-running wall-clock counter), letting
// Registry.UptimeNanos skip the ticks*(1e9/Hz) conversion the MAIN role
// requires.
type LifetimeDriver interface {
	Driver
	UptimeNanos() uint64
}

// Date is a calendar date and time of day, as read from an RTC driver.
type Date struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// RTCDriver is a Driver that additionally backs a battery-backed
// real-time clock: it can report the current calendar date and the time
// of day separately, for callers that only need one or the other.
type RTCDriver interface {
	Driver
	GetDate() (Date, error)
	GetDaytime() (time.Duration, error)
}

// TickCallback is invoked once per scheduler tick, the way a kernel's
// tick-manager drives per-CPU accounting (run-queue balancing, timer
// wheel expiry) off the same interrupt that increments CPUTicks.
type TickCallback func(cpuID int)

type registration struct {
	driver  Driver
	nesting int // disabled-nesting counter, starts at 1 per the spec
}

// Registry holds the set of registered timer drivers, keyed by role, and
// the per-CPU tick counters the scheduler's tick handler increments.
type Registry struct {
	mu sync.Mutex

	logger klog.Logger

	main     *registration
	rtc      *registration
	aux      []*registration
	lifetime *registration

	cpuTicks      map[int]uint64
	tickCallbacks []TickCallback
}

// NewRegistry returns an empty time subsystem registry.
func NewRegistry(logger klog.Logger) *Registry {
	if logger == nil {
		logger = klog.Default()
	}
	return &Registry{
		logger:   logger,
		cpuTicks: make(map[int]uint64),
	}
}

// Register installs driver under the given role. Registering a second
// MAIN, RTC or LIFETIME driver fails with AlreadyExists; AUX admits
// multiple registrations.
func (r *Registry) Register(role Role, driver Driver) error {
	if driver == nil {
		return kernelerr.New(kernelerr.InvalidArgument, "timer: nil driver")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := &registration{driver: driver, nesting: 1}

	switch role {
	case RoleMain:
		if r.main != nil {
			return kernelerr.New(kernelerr.AlreadyExists, "timer: MAIN role already held")
		}
		r.main = reg
	case RoleRTC:
		if r.rtc != nil {
			return kernelerr.New(kernelerr.AlreadyExists, "timer: RTC role already held")
		}
		if _, ok := driver.(RTCDriver); !ok {
			return kernelerr.New(kernelerr.InvalidArgument, "timer: RTC driver must implement GetDate/GetDaytime")
		}
		r.rtc = reg
	case RoleAux:
		r.aux = append(r.aux, reg)
	case RoleLifetime:
		if r.lifetime != nil {
			return kernelerr.New(kernelerr.AlreadyExists, "timer: LIFETIME role already held")
		}
		if _, ok := driver.(LifetimeDriver); !ok {
			return kernelerr.New(kernelerr.InvalidArgument, "timer: LIFETIME driver must implement UptimeNanos")
		}
		r.lifetime = reg
	default:
		return kernelerr.New(kernelerr.InvalidArgument, "timer: unknown role %d", role)
	}

	r.logger.Info("timer", "registered driver for role %d", role)
	return nil
}

// Main returns the driver holding the MAIN role, if any.
func (r *Registry) Main() (Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.main == nil {
		return nil, false
	}
	return r.main.driver, true
}

// RTC returns the driver holding the RTC role, if any.
func (r *Registry) RTC() (RTCDriver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rtc == nil {
		return nil, false
	}
	return r.rtc.driver.(RTCDriver), true
}

// GetDate reads the current calendar date from the registered RTC
// driver.
func (r *Registry) GetDate() (Date, error) {
	rtc, ok := r.RTC()
	if !ok {
		return Date{}, kernelerr.New(kernelerr.NotFound, "timer: no RTC driver registered")
	}
	return rtc.GetDate()
}

// GetDaytime reads the current time of day from the registered RTC
// driver.
func (r *Registry) GetDaytime() (time.Duration, error) {
	rtc, ok := r.RTC()
	if !ok {
		return 0, kernelerr.New(kernelerr.NotFound, "timer: no RTC driver registered")
	}
	return rtc.GetDaytime()
}

// SetMainFrequency reprograms the MAIN driver's tick rate.
func (r *Registry) SetMainFrequency(hz uint64) error {
	r.mu.Lock()
	main := r.main
	r.mu.Unlock()
	if main == nil {
		return kernelerr.New(kernelerr.NotFound, "timer: no MAIN driver registered")
	}
	return main.driver.SetFrequency(hz)
}

// RegisterTickCallback adds fn to the set of callbacks TickCPU invokes on
// every scheduler tick, the way a tick-manager drives per-CPU accounting
// off the timer interrupt.
func (r *Registry) RegisterTickCallback(fn TickCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickCallbacks = append(r.tickCallbacks, fn)
}

// UptimeNanos implements the uptime-ns contract: if a LIFETIME driver is
// registered, its UptimeNanos is authoritative; otherwise uptime is
// derived from the MAIN driver's tick count and frequency. With neither
// registered, UptimeNanos returns 0.
func (r *Registry) UptimeNanos() uint64 {
	r.mu.Lock()
	lifetime := r.lifetime
	main := r.main
	r.mu.Unlock()

	if lifetime != nil {
		return lifetime.driver.(LifetimeDriver).UptimeNanos()
	}
	if main == nil {
		return 0
	}
	hz := main.driver.FrequencyHz()
	if hz == 0 {
		return 0
	}
	ticks := main.driver.Ticks()
	return ticks * (1_000_000_000 / hz)
}

// TickCPU increments the per-CPU tick counter for cpuID, called by the
// scheduler's timer-interrupt handler, then runs every registered
// TickCallback outside the lock (matching intr.Table.Dispatch's
// lock-then-release-then-invoke discipline, so a callback is free to call
// back into the registry).
func (r *Registry) TickCPU(cpuID int) {
	r.mu.Lock()
	r.cpuTicks[cpuID]++
	callbacks := make([]TickCallback, len(r.tickCallbacks))
	copy(callbacks, r.tickCallbacks)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(cpuID)
	}
}

// CPUTicks returns the tick count accumulated for cpuID.
func (r *Registry) CPUTicks(cpuID int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cpuTicks[cpuID]
}

// WaitNoSched busy-waits on the MAIN driver (or, absent one, the first
// registered AUX driver, then the LIFETIME driver) for the given duration.
func (r *Registry) WaitNoSched(d time.Duration) error {
	r.mu.Lock()
	driver := r.pickWaitDriverLocked()
	r.mu.Unlock()

	if driver == nil {
		return kernelerr.New(kernelerr.NotFound, "timer: no driver available to wait on")
	}
	driver.WaitNoSched(d)
	return nil
}

func (r *Registry) pickWaitDriverLocked() Driver {
	if r.main != nil {
		return r.main.driver
	}
	if len(r.aux) > 0 {
		return r.aux[0].driver
	}
	if r.lifetime != nil {
		return r.lifetime.driver
	}
	return nil
}

// Disable increments the disabled-nesting counter for the MAIN driver,
// mirroring the interrupt table's nesting discipline but scoped to a
// single driver rather than the whole vector table. The first call past
// the starting depth of 1 masks the driver's underlying IRQ. It returns
// the depth observed before this call.
func (r *Registry) Disable() (int, error) {
	r.mu.Lock()
	main := r.main
	if main == nil {
		r.mu.Unlock()
		return 0, kernelerr.New(kernelerr.NotFound, "timer: no MAIN driver registered")
	}
	was := main.nesting
	main.nesting++
	r.mu.Unlock()

	if was == 1 {
		if err := main.driver.SetIRQMask(true); err != nil {
			return was, err
		}
	}
	return was, nil
}

// Restore undoes one Disable. Restore(0) is a no-op, matching the
// interrupt table's convention. The nesting counter returning to 1
// unmasks the driver's underlying IRQ again.
func (r *Registry) Restore(saved int) {
	if saved == 0 {
		return
	}
	r.mu.Lock()
	main := r.main
	if main == nil || main.nesting == 0 {
		r.mu.Unlock()
		return
	}
	main.nesting--
	nowUnmasked := main.nesting == 1
	r.mu.Unlock()

	if nowUnmasked {
		main.driver.SetIRQMask(false)
	}
}
