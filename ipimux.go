// Package ipimux multiplexes an arbitrary number of virtual
// inter-processor interrupt lines over a single physical interrupt line
// per CPU. Senders mark a virtual line pending in the target CPU's
// atomic bitmask and ring the physical doorbell; the receiving CPU
// drains its bitmask and dispatches every pending line through a
// generic interrupt registry.
package ipimux

import (
	"github.com/tinyrange/ipimux/internal/cpumask"
	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
	"github.com/tinyrange/ipimux/internal/mux"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Mux is the multiplexing core.
type Mux = mux.Mux

// Config carries the collaborators and settings for Create.
type Config = mux.Config

// Ops is the pluggable capability for triggering the physical line.
type Ops = mux.Ops

// Clearer is the optional capability for acknowledging the physical line.
type Clearer = mux.Clearer

// CPUMask is a set of target CPU ids.
type CPUMask = cpumask.Mask

// Registry is the generic interrupt framework shared by controllers and
// drivers.
type Registry = irq.Registry

// Domain maps virtual line numbers onto global IRQ numbers.
type Domain = irq.Domain

// HWIRQ is a line number local to a domain.
type HWIRQ = irq.HWIRQ

// Handler is invoked when a line is dispatched.
type Handler = irq.Handler

// Trigger describes how a line is triggered.
type Trigger = irq.Trigger

// Notifier delivers CPU online/offline events.
type Notifier = hotplug.Notifier

// MaxLines bounds the number of multiplexable virtual lines.
const MaxLines = mux.MaxLines

// Trigger types.
const (
	TriggerNone       = irq.TriggerNone
	TriggerEdgeRising = irq.TriggerEdgeRising
	TriggerLevelHigh  = irq.TriggerLevelHigh
)

// Common sentinel errors.
var (
	ErrMissingOps     = mux.ErrMissingOps
	ErrAlreadyCreated = mux.ErrAlreadyCreated
	ErrBadLine        = mux.ErrBadLine
	ErrNoHandler      = irq.ErrNoHandler
	ErrNotMapped      = irq.ErrNotMapped
)

// Create builds the virtual line domain on top of a single parent line.
// See mux.Create for the auto/manual mode contract.
func Create(cfg Config) (*Mux, error) {
	return mux.Create(cfg)
}

// NewRegistry returns an empty interrupt registry.
func NewRegistry() *Registry {
	return irq.NewRegistry()
}

// NewNotifier returns a hot-plug notifier with no CPUs online.
func NewNotifier() *Notifier {
	return hotplug.NewNotifier()
}

// MaskOf returns a CPU mask containing exactly the given CPUs.
func MaskOf(cpus ...int) CPUMask {
	return cpumask.MaskOf(cpus...)
}
