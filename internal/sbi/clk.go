package sbi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
)

// ratesBufSize is the shared output buffer handed to the get-rates
// call: a 16-byte header followed by rate words.
const ratesBufSize = 4096

// MaxRates is the largest number of discrete rates one get-rates call
// can return.
const MaxRates = (ratesBufSize - 16) / 8

// rateRange describes a clock supporting a continuous range of rates.
type rateRange struct {
	min  uint64
	max  uint64
	step uint64
}

// Clock is one firmware-managed clock.
type Clock struct {
	fw       Firmware
	id       uint64
	name     string
	discrete bool

	rates []uint64
	rng   rateRange
}

// ID returns the firmware clock id.
func (c *Clock) ID() uint64 { return c.id }

// Name returns the firmware-reported clock name.
func (c *Clock) Name() string { return c.name }

// Discrete reports whether the clock supports a discrete rate list
// rather than a continuous range.
func (c *Clock) Discrete() bool { return c.discrete }

// NumRates returns the number of rates reported by the firmware.
func (c *Clock) NumRates() int {
	if c.discrete {
		return len(c.rates)
	}
	return 1
}

// Range returns the supported rate bounds.
func (c *Clock) Range() (min, max uint64) {
	if c.discrete {
		return c.rates[0], c.rates[len(c.rates)-1]
	}
	return c.rng.min, c.rng.max
}

// Rate queries the current rate from the firmware. Never cached.
func (c *Clock) Rate() (uint64, error) {
	ret := c.fw.Ecall(ExtVentana, FIDClockGetRate, nil, c.id)
	if err := ret.Err(); err != nil {
		return 0, fmt.Errorf("sbi: get rate for clock %d: %w", c.id, err)
	}
	return ret.Value, nil
}

// SetRate asks the firmware to change the clock rate.
func (c *Clock) SetRate(rate uint64) error {
	ret := c.fw.Ecall(ExtVentana, FIDClockSetRate, nil, c.id, rate)
	if err := ret.Err(); err != nil {
		return fmt.Errorf("sbi: set rate %d for clock %d: %w", rate, c.id, err)
	}
	return nil
}

// RoundRate returns the closest supported rate at or above the request
// for range clocks, clamped to the supported bounds. Discrete clocks
// return the request unchanged; the firmware selects a supported rate
// on SetRate.
func (c *Clock) RoundRate(rate uint64) uint64 {
	if c.discrete {
		return rate
	}
	if rate <= c.rng.min {
		return c.rng.min
	}
	if rate >= c.rng.max {
		return c.rng.max
	}
	steps := (rate - c.rng.min + c.rng.step - 1) / c.rng.step
	return c.rng.min + steps*c.rng.step
}

// Enable turns the clock on.
func (c *Clock) Enable() error {
	ret := c.fw.Ecall(ExtVentana, FIDClockSetConfig, nil, c.id, ClockEnable)
	if err := ret.Err(); err != nil {
		return fmt.Errorf("sbi: enable clock %d: %w", c.id, err)
	}
	return nil
}

// Disable turns the clock off.
func (c *Clock) Disable() error {
	ret := c.fw.Ecall(ExtVentana, FIDClockSetConfig, nil, c.id, ClockDisable)
	if err := ret.Err(); err != nil {
		return fmt.Errorf("sbi: disable clock %d: %w", c.id, err)
	}
	return nil
}

// ClockProvider enumerates and owns the firmware clocks.
type ClockProvider struct {
	fw     Firmware
	log    *slog.Logger
	clocks []*Clock
}

// NewClockProvider probes the firmware for the vendor clock group and
// enumerates every clock it reports. Clocks that fail to enumerate are
// skipped with a logged error; at least one clock must survive.
func NewClockProvider(fw Firmware, logger *slog.Logger) (*ClockProvider, error) {
	if fw == nil {
		return nil, fmt.Errorf("sbi: firmware transport required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ret := fw.Ecall(ExtBase, BaseGetSpecVersion, nil)
	if err := ret.Err(); err != nil {
		return nil, fmt.Errorf("sbi: query spec version: %w", err)
	}
	if ret.Value < MakeVersion(1, 0) {
		return nil, fmt.Errorf("sbi: spec version 0x%x too old", ret.Value)
	}

	ret = fw.Ecall(ExtBase, BaseProbeExtension, nil, uint64(ExtVentana))
	if err := ret.Err(); err != nil || ret.Value == 0 {
		return nil, fmt.Errorf("sbi: vendor extension not available")
	}

	ret = fw.Ecall(ExtVentana, GroupProbe, nil, uint64(GroupClock))
	if err := ret.Err(); err != nil || ret.Value == 0 {
		return nil, fmt.Errorf("sbi: clock group not available")
	}

	ret = fw.Ecall(ExtVentana, FIDClockSysAttr, nil)
	if err := ret.Err(); err != nil {
		return nil, fmt.Errorf("sbi: query clock count: %w", err)
	}
	numClocks := int(ret.Value)
	if numClocks == 0 {
		return nil, fmt.Errorf("sbi: no clocks found")
	}

	p := &ClockProvider{fw: fw, log: logger}
	for id := 0; id < numClocks; id++ {
		clk, err := p.enumClock(uint64(id))
		if err != nil {
			logger.Error("sbi: failed to enumerate clock", "clock", id, "err", err)
			continue
		}
		p.clocks = append(p.clocks, clk)
	}
	if len(p.clocks) == 0 {
		return nil, fmt.Errorf("sbi: all %d clocks failed to enumerate", numClocks)
	}

	logger.Info("sbi: clocks found", "count", len(p.clocks))
	return p, nil
}

// Clocks returns the enumerated clocks in firmware id order.
func (p *ClockProvider) Clocks() []*Clock { return p.clocks }

// Lookup returns the clock with the given name.
func (p *ClockProvider) Lookup(name string) (*Clock, bool) {
	for _, c := range p.clocks {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

func (p *ClockProvider) enumClock(id uint64) (*Clock, error) {
	nameBuf := make([]byte, ClockNameLen)
	ret := p.fw.Ecall(ExtVentana, FIDClockGetAttr, nameBuf, id, uint64(len(nameBuf)))
	if err := ret.Err(); err != nil {
		return nil, fmt.Errorf("get name: %w", err)
	}
	name := string(bytes.TrimRight(nameBuf, "\x00"))

	clk := &Clock{fw: p.fw, id: id, name: name}
	if err := p.fetchRates(clk); err != nil {
		return nil, fmt.Errorf("get rates: %w", err)
	}
	return clk, nil
}

// fetchRates reads the rates descriptor: flags, reserved, remaining and
// returned counts, then either a discrete rate list or a min/max/step
// triple, all little-endian.
func (p *ClockProvider) fetchRates(clk *Clock) error {
	buf := make([]byte, ratesBufSize)
	ret := p.fw.Ecall(ExtVentana, FIDClockGetRates, buf, clk.id, 0, uint64(len(buf)))
	if err := ret.Err(); err != nil {
		return err
	}

	flags := binary.LittleEndian.Uint32(buf[0:4])
	remaining := binary.LittleEndian.Uint32(buf[8:12])
	returned := binary.LittleEndian.Uint32(buf[12:16])

	clk.discrete = flags>>31 != 0

	if remaining > 0 {
		p.log.Warn("sbi: clock reports more rates than supported",
			"clock", clk.id, "remaining", remaining)
	}
	if returned == 0 {
		return fmt.Errorf("no rates returned: %w", ErrInvalidParam)
	}
	if returned > MaxRates {
		return fmt.Errorf("returned rate count %d exceeds buffer: %w", returned, ErrInvalidParam)
	}

	if clk.discrete {
		clk.rates = make([]uint64, returned)
		for i := range clk.rates {
			clk.rates[i] = binary.LittleEndian.Uint64(buf[16+8*i:])
		}
	} else {
		clk.rng = rateRange{
			min:  binary.LittleEndian.Uint64(buf[16:24]),
			max:  binary.LittleEndian.Uint64(buf[24:32]),
			step: binary.LittleEndian.Uint64(buf[32:40]),
		}
		if clk.rng.step == 0 {
			return fmt.Errorf("range clock with zero step: %w", ErrInvalidParam)
		}
	}
	return nil
}
