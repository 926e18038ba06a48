package timer

import (
	"testing"
	"time"
)

func TestRegisterRejectsSecondMain(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(RoleMain, NewHostDriver(1000)); err != nil {
		t.Fatalf("first MAIN register: %v", err)
	}
	if err := r.Register(RoleMain, NewHostDriver(1000)); err == nil {
		t.Fatalf("expected error registering a second MAIN driver")
	}
}

func TestUptimePrefersLifetime(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(RoleMain, NewHostDriver(1000)); err != nil {
		t.Fatalf("Register MAIN: %v", err)
	}
	if err := r.Register(RoleLifetime, NewHostLifetimeDriver()); err != nil {
		t.Fatalf("Register LIFETIME: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	u := r.UptimeNanos()
	if u == 0 {
		t.Fatalf("expected nonzero uptime")
	}
}

func TestUptimeFallsBackToMainTicks(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(RoleMain, NewHostDriver(1000)); err != nil {
		t.Fatalf("Register MAIN: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if r.UptimeNanos() == 0 {
		t.Fatalf("expected nonzero uptime derived from MAIN ticks")
	}
}

func TestDisabledNestingStartsAtOne(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(RoleMain, NewHostDriver(1000))

	saved, err := r.Disable()
	if err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if saved != 1 {
		t.Fatalf("first Disable should observe nesting=1, got %d", saved)
	}
	r.Restore(saved)
}

func TestRegisterRTCRequiresRTCDriver(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(RoleRTC, NewHostDriver(1)); err == nil {
		t.Fatalf("expected error registering a non-RTCDriver under RoleRTC")
	}
}

func TestRTCGetDateAndDaytime(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(RoleRTC, NewHostRTCDriver()); err != nil {
		t.Fatalf("Register RTC: %v", err)
	}

	date, err := r.GetDate()
	if err != nil {
		t.Fatalf("GetDate: %v", err)
	}
	if date.Year < 2020 {
		t.Fatalf("GetDate year = %d, looks wrong", date.Year)
	}

	daytime, err := r.GetDaytime()
	if err != nil {
		t.Fatalf("GetDaytime: %v", err)
	}
	if daytime < 0 || daytime >= 24*time.Hour {
		t.Fatalf("GetDaytime = %v, want within [0, 24h)", daytime)
	}
}

func TestSetMainFrequencyReprogramsDriver(t *testing.T) {
	r := NewRegistry(nil)
	main := NewHostDriver(1000)
	if err := r.Register(RoleMain, main); err != nil {
		t.Fatalf("Register MAIN: %v", err)
	}
	if err := r.SetMainFrequency(5000); err != nil {
		t.Fatalf("SetMainFrequency: %v", err)
	}
	if main.FrequencyHz() != 5000 {
		t.Fatalf("FrequencyHz = %d, want 5000", main.FrequencyHz())
	}
}

func TestTickCallbackFiresOnTickCPU(t *testing.T) {
	r := NewRegistry(nil)
	var gotCPU int
	calls := 0
	r.RegisterTickCallback(func(cpuID int) {
		calls++
		gotCPU = cpuID
	})

	r.TickCPU(3)
	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
	if gotCPU != 3 {
		t.Fatalf("callback saw cpuID = %d, want 3", gotCPU)
	}
}

func TestDisableMasksMainDriverIRQ(t *testing.T) {
	r := NewRegistry(nil)
	main := NewHostDriver(1000)
	if err := r.Register(RoleMain, main); err != nil {
		t.Fatalf("Register MAIN: %v", err)
	}

	saved, err := r.Disable()
	if err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if !main.masked {
		t.Fatalf("expected MAIN driver IRQ masked after Disable")
	}
	r.Restore(saved)
	if main.masked {
		t.Fatalf("expected MAIN driver IRQ unmasked after matching Restore")
	}
}

func TestPerCPUTicks(t *testing.T) {
	r := NewRegistry(nil)
	r.TickCPU(0)
	r.TickCPU(0)
	r.TickCPU(1)

	if r.CPUTicks(0) != 2 {
		t.Fatalf("cpu0 ticks = %d, want 2", r.CPUTicks(0))
	}
	if r.CPUTicks(1) != 1 {
		t.Fatalf("cpu1 ticks = %d, want 1", r.CPUTicks(1))
	}
}

func TestWaitNoSchedBusyWaits(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(RoleMain, NewHostDriver(1000))

	start := time.Now()
	if err := r.WaitNoSched(5 * time.Millisecond); err != nil {
		t.Fatalf("WaitNoSched: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("WaitNoSched returned too early")
	}
}
