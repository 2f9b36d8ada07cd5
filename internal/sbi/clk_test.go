package sbi

import (
	"encoding/binary"
	"errors"
	"testing"
)

// fakeClock is the firmware-side state for one clock.
type fakeClock struct {
	name      string
	discrete  bool
	rates     []uint64
	min       uint64
	max       uint64
	step      uint64
	remaining uint32
	breakEnum bool

	rate    uint64
	enabled bool
}

// fakeFirmware answers the clock group ABI from in-memory state.
type fakeFirmware struct {
	version       uint64
	hasExtension  bool
	hasClockGroup bool
	clocks        []*fakeClock
}

func workingFirmware(clocks ...*fakeClock) *fakeFirmware {
	return &fakeFirmware{
		version:       MakeVersion(1, 0),
		hasExtension:  true,
		hasClockGroup: true,
		clocks:        clocks,
	}
}

func (f *fakeFirmware) Ecall(ext, fid uint32, buf []byte, args ...uint64) Ret {
	switch {
	case ext == ExtBase && fid == BaseGetSpecVersion:
		return Ret{Value: f.version}
	case ext == ExtBase && fid == BaseProbeExtension:
		if f.hasExtension && uint32(args[0]) == ExtVentana {
			return Ret{Value: 1}
		}
		return Ret{Value: 0}
	case ext != ExtVentana:
		return Ret{Code: -2}
	}

	switch fid {
	case GroupProbe:
		if f.hasClockGroup && uint32(args[0]) == GroupClock {
			return Ret{Value: 1}
		}
		return Ret{Value: 0}
	case FIDClockSysAttr:
		return Ret{Value: uint64(len(f.clocks))}
	}

	id := args[0]
	if id >= uint64(len(f.clocks)) {
		return Ret{Code: -3}
	}
	clk := f.clocks[id]

	switch fid {
	case FIDClockGetAttr:
		copy(buf, clk.name)
		return Ret{}
	case FIDClockGetRates:
		if clk.breakEnum {
			return Ret{Code: -1}
		}
		var flags uint32
		if clk.discrete {
			flags = 1 << 31
		}
		binary.LittleEndian.PutUint32(buf[0:4], flags)
		binary.LittleEndian.PutUint32(buf[8:12], clk.remaining)
		if clk.discrete {
			binary.LittleEndian.PutUint32(buf[12:16], uint32(len(clk.rates)))
			for i, rate := range clk.rates {
				binary.LittleEndian.PutUint64(buf[16+8*i:], rate)
			}
		} else {
			binary.LittleEndian.PutUint32(buf[12:16], 1)
			binary.LittleEndian.PutUint64(buf[16:24], clk.min)
			binary.LittleEndian.PutUint64(buf[24:32], clk.max)
			binary.LittleEndian.PutUint64(buf[32:40], clk.step)
		}
		return Ret{}
	case FIDClockGetRate:
		return Ret{Value: clk.rate}
	case FIDClockSetRate:
		clk.rate = args[1]
		return Ret{}
	case FIDClockSetConfig:
		clk.enabled = args[1] == ClockEnable
		return Ret{}
	case FIDClockGetConfig:
		if clk.enabled {
			return Ret{Value: ClockEnable}
		}
		return Ret{Value: ClockDisable}
	}
	return Ret{Code: -2}
}

func TestRetErrMapping(t *testing.T) {
	cases := []struct {
		code int64
		want error
	}{
		{0, nil},
		{-1, ErrFailed},
		{-2, ErrNotSupported},
		{-3, ErrInvalidParam},
		{-4, ErrDenied},
		{-5, ErrInvalidAddress},
		{-6, ErrAlreadyAvailable},
		{-99, ErrFailed},
	}
	for _, c := range cases {
		if got := (Ret{Code: c.code}).Err(); !errors.Is(got, c.want) {
			t.Fatalf("code %d maps to %v, want %v", c.code, got, c.want)
		}
	}
}

func TestProviderEnumeratesClocks(t *testing.T) {
	fw := workingFirmware(
		&fakeClock{name: "cpu", min: 500_000_000, max: 2_000_000_000, step: 100_000_000, rate: 1_000_000_000},
		&fakeClock{name: "uart", discrete: true, rates: []uint64{9600, 115200, 921600}},
	)

	p, err := NewClockProvider(fw, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if got := len(p.Clocks()); got != 2 {
		t.Fatalf("clock count = %d, want 2", got)
	}

	cpu, ok := p.Lookup("cpu")
	if !ok {
		t.Fatalf("cpu clock not found")
	}
	if cpu.Discrete() {
		t.Fatalf("cpu clock reported discrete")
	}
	if min, max := cpu.Range(); min != 500_000_000 || max != 2_000_000_000 {
		t.Fatalf("cpu range = [%d, %d]", min, max)
	}

	uart, ok := p.Lookup("uart")
	if !ok {
		t.Fatalf("uart clock not found")
	}
	if !uart.Discrete() {
		t.Fatalf("uart clock not reported discrete")
	}
	if got := uart.NumRates(); got != 3 {
		t.Fatalf("uart rate count = %d, want 3", got)
	}
	if min, max := uart.Range(); min != 9600 || max != 921600 {
		t.Fatalf("uart range = [%d, %d]", min, max)
	}
}

func TestRoundRate(t *testing.T) {
	fw := workingFirmware(
		&fakeClock{name: "cpu", min: 1000, max: 2000, step: 300},
		&fakeClock{name: "uart", discrete: true, rates: []uint64{9600, 115200}},
	)
	p, err := NewClockProvider(fw, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	cpu, _ := p.Lookup("cpu")
	cases := []struct{ in, want uint64 }{
		{500, 1000},  // below range clamps to min
		{1000, 1000}, // exact min
		{1001, 1300}, // rounds up to step granularity
		{1300, 1300}, // exact step
		{1900, 1900}, // exact step near max
		{5000, 2000}, // above range clamps to max
	}
	for _, c := range cases {
		if got := cpu.RoundRate(c.in); got != c.want {
			t.Fatalf("RoundRate(%d) = %d, want %d", c.in, got, c.want)
		}
	}

	// Discrete clocks pass the request through unchanged.
	uart, _ := p.Lookup("uart")
	if got := uart.RoundRate(12345); got != 12345 {
		t.Fatalf("discrete RoundRate(12345) = %d", got)
	}
}

func TestClockOperations(t *testing.T) {
	state := &fakeClock{name: "cpu", min: 1000, max: 2000, step: 100, rate: 1500}
	fw := workingFirmware(state)
	p, err := NewClockProvider(fw, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	clk := p.Clocks()[0]

	rate, err := clk.Rate()
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate != 1500 {
		t.Fatalf("rate = %d, want 1500", rate)
	}

	if err := clk.SetRate(1800); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if state.rate != 1800 {
		t.Fatalf("firmware rate = %d, want 1800", state.rate)
	}

	if err := clk.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !state.enabled {
		t.Fatalf("clock not enabled in firmware")
	}
	if err := clk.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if state.enabled {
		t.Fatalf("clock still enabled in firmware")
	}
}

func TestProbeFailures(t *testing.T) {
	clk := &fakeClock{name: "cpu", min: 1, max: 2, step: 1}

	fw := workingFirmware(clk)
	fw.version = MakeVersion(0, 3)
	if _, err := NewClockProvider(fw, nil); err == nil {
		t.Fatalf("pre-1.0 firmware accepted")
	}

	fw = workingFirmware(clk)
	fw.hasExtension = false
	if _, err := NewClockProvider(fw, nil); err == nil {
		t.Fatalf("missing vendor extension accepted")
	}

	fw = workingFirmware(clk)
	fw.hasClockGroup = false
	if _, err := NewClockProvider(fw, nil); err == nil {
		t.Fatalf("missing clock group accepted")
	}

	if _, err := NewClockProvider(workingFirmware(), nil); err == nil {
		t.Fatalf("zero clocks accepted")
	}

	if _, err := NewClockProvider(nil, nil); err == nil {
		t.Fatalf("nil firmware accepted")
	}
}

func TestEnumerationSkipsBrokenClock(t *testing.T) {
	fw := workingFirmware(
		&fakeClock{name: "bad", breakEnum: true},
		&fakeClock{name: "good", min: 1000, max: 2000, step: 100},
	)

	p, err := NewClockProvider(fw, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if got := len(p.Clocks()); got != 1 {
		t.Fatalf("clock count = %d, want 1", got)
	}
	if _, ok := p.Lookup("good"); !ok {
		t.Fatalf("surviving clock not enumerated")
	}

	// All clocks failing is a provider-level failure.
	fw = workingFirmware(&fakeClock{name: "bad", breakEnum: true})
	if _, err := NewClockProvider(fw, nil); err == nil {
		t.Fatalf("provider with zero surviving clocks accepted")
	}
}

func TestRemainingRatesStillEnumerates(t *testing.T) {
	fw := workingFirmware(
		&fakeClock{name: "many", discrete: true, rates: []uint64{1, 2, 3}, remaining: 12},
	)
	p, err := NewClockProvider(fw, nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	clk, ok := p.Lookup("many")
	if !ok {
		t.Fatalf("clock with truncated rate list not enumerated")
	}
	if got := clk.NumRates(); got != 3 {
		t.Fatalf("rate count = %d, want 3", got)
	}
}
