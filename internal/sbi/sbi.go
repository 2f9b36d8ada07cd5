// Package sbi implements a synchronous call/response client for a
// hypercall-style firmware ABI, including the vendor clock group used
// by the clock provider.
package sbi

import "errors"

// Extension IDs.
const (
	ExtBase uint32 = 0x10

	// Vendor extension space. The vendor ID (JEDEC 0x1f, bank 13) maps
	// to offset 0x61f.
	ExtVendorStart uint32 = 0x09000000
	ExtVentana     uint32 = ExtVendorStart + 0x61f
)

// Base extension function IDs.
const (
	BaseGetSpecVersion uint32 = 0
	BaseGetImplID      uint32 = 1
	BaseGetImplVersion uint32 = 2
	BaseProbeExtension uint32 = 3
)

// Vendor extension groups and the group-probe function.
const (
	GroupProbe uint32 = 0x0
	GroupClock uint32 = 0x1
)

// Clock group function IDs: group in bits 15:8, function in bits 7:0.
const (
	FIDClockSysAttr   = GroupClock<<8 | 0x1
	FIDClockGetAttr   = GroupClock<<8 | 0x2
	FIDClockGetRates  = GroupClock<<8 | 0x3
	FIDClockSetConfig = GroupClock<<8 | 0x4
	FIDClockGetConfig = GroupClock<<8 | 0x5
	FIDClockSetRate   = GroupClock<<8 | 0x6
	FIDClockGetRate   = GroupClock<<8 | 0x7
	FIDClockGetRateHi = GroupClock<<8 | 0x8
)

// Clock configuration values for FIDClockSetConfig.
const (
	ClockDisable uint64 = 0
	ClockEnable  uint64 = 1
)

// ClockNameLen is the fixed width of a clock name in the attribute call.
const ClockNameLen = 32

// Firmware call status codes.
const (
	codeSuccess          int64 = 0
	codeFailed           int64 = -1
	codeNotSupported     int64 = -2
	codeInvalidParam     int64 = -3
	codeDenied           int64 = -4
	codeInvalidAddress   int64 = -5
	codeAlreadyAvailable int64 = -6
)

var (
	ErrFailed           = errors.New("sbi: call failed")
	ErrNotSupported     = errors.New("sbi: not supported")
	ErrInvalidParam     = errors.New("sbi: invalid parameter")
	ErrDenied           = errors.New("sbi: denied")
	ErrInvalidAddress   = errors.New("sbi: invalid address")
	ErrAlreadyAvailable = errors.New("sbi: already available")
)

// Ret is the two-register return of a firmware call.
type Ret struct {
	Code  int64
	Value uint64
}

// Err maps the status code to a sentinel error, or nil on success.
// Unknown codes map to ErrFailed.
func (r Ret) Err() error {
	switch r.Code {
	case codeSuccess:
		return nil
	case codeFailed:
		return ErrFailed
	case codeNotSupported:
		return ErrNotSupported
	case codeInvalidParam:
		return ErrInvalidParam
	case codeDenied:
		return ErrDenied
	case codeInvalidAddress:
		return ErrInvalidAddress
	case codeAlreadyAvailable:
		return ErrAlreadyAvailable
	default:
		return ErrFailed
	}
}

// Firmware is the synchronous transport for firmware calls. buf, when
// non-nil, stands in for the shared output memory some calls write
// into; implementations fill it before returning.
type Firmware interface {
	Ecall(ext, fid uint32, buf []byte, args ...uint64) Ret
}

// MakeVersion packs a specification version: major in bits 30:24,
// minor in bits 23:0.
func MakeVersion(major, minor uint64) uint64 {
	return (major&0x7f)<<24 | minor&0xffffff
}
