package timer

import (
	"sync"
	"time"

	"github.com/tinyrange/roOs/internal/kernelerr"
)

// HostDriver is a Driver backed by the host's monotonic clock, used by
// cmd/roosdemo and by tests in place of a real hardware timer. Its tick
// accrual is the same time.Now()-delta technique as the teacher's
// hpet.Device.updateCounterLocked: ticks owed since the last read are
// computed from elapsed wall-clock time and the configured frequency,
// rather than requiring a real interrupt source to drive the counter.
type HostDriver struct {
	mu         sync.Mutex
	hz         uint64
	ticks      uint64
	lastUpdate time.Time
	masked     bool
}

// NewHostDriver returns a HostDriver ticking at hz ticks per second.
func NewHostDriver(hz uint64) *HostDriver {
	return &HostDriver{hz: hz, lastUpdate: time.Now()}
}

func (d *HostDriver) FrequencyHz() uint64 { return d.hz }

func (d *HostDriver) SetFrequency(hz uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accrueLocked()
	d.hz = hz
	return nil
}

// SetIRQMask records the mask state. The host clock has no real IRQ line
// to gate, so this only affects whether Ticks keeps accruing: a masked
// HostDriver freezes at its last observed tick count, mirroring what
// masking the underlying line would do to a real timer's counter.
func (d *HostDriver) SetIRQMask(masked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accrueLocked()
	d.masked = masked
	d.lastUpdate = time.Now()
	return nil
}

func (d *HostDriver) Ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accrueLocked()
	return d.ticks
}

func (d *HostDriver) accrueLocked() {
	now := time.Now()
	if d.masked || now.Before(d.lastUpdate) {
		d.lastUpdate = now
		return
	}
	elapsed := now.Sub(d.lastUpdate)
	d.ticks += uint64(elapsed.Seconds() * float64(d.hz))
	d.lastUpdate = now
}

func (d *HostDriver) WaitNoSched(dur time.Duration) {
	deadline := time.Now().Add(dur)
	for time.Now().Before(deadline) {
		// busy-wait: boot-time callers run before a scheduler exists to
		// yield to.
	}
}

// HostLifetimeDriver is a LifetimeDriver backed directly by the host's
// monotonic clock, reporting uptime without the ticks*(1e9/Hz) conversion.
type HostLifetimeDriver struct {
	start time.Time
	hz    uint64
}

// NewHostLifetimeDriver returns a LifetimeDriver that reports elapsed
// nanoseconds since construction.
func NewHostLifetimeDriver() *HostLifetimeDriver {
	return &HostLifetimeDriver{start: time.Now(), hz: 1_000_000_000}
}

func (d *HostLifetimeDriver) FrequencyHz() uint64 { return d.hz }
func (d *HostLifetimeDriver) SetFrequency(hz uint64) error {
	return kernelerr.New(kernelerr.NotSupported, "timer: lifetime driver frequency is fixed")
}
func (d *HostLifetimeDriver) Ticks() uint64 { return d.UptimeNanos() }
func (d *HostLifetimeDriver) WaitNoSched(dur time.Duration) {
	deadline := time.Now().Add(dur)
	for time.Now().Before(deadline) {
	}
}
func (d *HostLifetimeDriver) SetIRQMask(masked bool) error {
	return kernelerr.New(kernelerr.NotSupported, "timer: lifetime driver has no IRQ line")
}
func (d *HostLifetimeDriver) UptimeNanos() uint64 {
	return uint64(time.Since(d.start).Nanoseconds())
}

// HostRTCDriver is an RTCDriver backed by the host's wall clock, for
// cmd/roosdemo and tests exercising the RTC role without a real
// battery-backed clock chip.
type HostRTCDriver struct {
	hz uint64
}

// NewHostRTCDriver returns an RTCDriver reporting the host's current
// wall-clock date and time of day.
func NewHostRTCDriver() *HostRTCDriver {
	return &HostRTCDriver{hz: 1}
}

func (d *HostRTCDriver) FrequencyHz() uint64 { return d.hz }
func (d *HostRTCDriver) SetFrequency(hz uint64) error {
	d.hz = hz
	return nil
}
func (d *HostRTCDriver) Ticks() uint64 { return uint64(time.Now().Unix()) }
func (d *HostRTCDriver) WaitNoSched(dur time.Duration) {
	deadline := time.Now().Add(dur)
	for time.Now().Before(deadline) {
	}
}
func (d *HostRTCDriver) SetIRQMask(masked bool) error { return nil }

func (d *HostRTCDriver) GetDate() (Date, error) {
	now := time.Now().UTC()
	return Date{
		Year: now.Year(), Month: int(now.Month()), Day: now.Day(),
		Hour: now.Hour(), Minute: now.Minute(), Second: now.Second(),
	}, nil
}

func (d *HostRTCDriver) GetDaytime() (time.Duration, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return now.Sub(midnight), nil
}
