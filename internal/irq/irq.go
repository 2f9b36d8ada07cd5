// Package irq implements a small generic interrupt framework: global IRQ
// number allocation, linear hwirq domains, handler dispatch, per-CPU line
// control, and chained-handler plumbing for cascaded controllers.
package irq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyrange/ipimux/internal/cpumask"
)

var (
	// ErrNotMapped is returned when a hwirq falls outside its domain.
	ErrNotMapped = errors.New("irq: hwirq not mapped")
	// ErrNoHandler is returned by Dispatch when nothing is bound to the line.
	ErrNoHandler = errors.New("irq: no handler bound")
	// ErrUnknownIRQ is returned for global IRQ numbers the registry never allocated.
	ErrUnknownIRQ = errors.New("irq: unknown irq")
	// ErrNoChip is returned when an operation requires a chip and none is attached.
	ErrNoChip = errors.New("irq: no chip attached")
)

// HWIRQ is a hardware-local line number within a domain.
type HWIRQ uint32

// Trigger describes how a line is triggered.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerEdgeRising
	TriggerLevelHigh
)

// Handler is invoked when a line is dispatched. cpu identifies the CPU
// the interrupt was delivered on.
type Handler func(cpu int)

// ChainedHandler services a parent line that demultiplexes into further lines.
type ChainedHandler func(cpu int)

// Chip is the per-line controller behavior attached to a domain's lines.
type Chip interface {
	Name() string
	Mask(virq int)
	Unmask(virq int)
	Send(virq int, targets cpumask.Mask)
}

// ChainedChip is optionally implemented by a Chip to take part in the
// chained-handler bracket protocol.
type ChainedChip interface {
	Ack(virq int)
	EOI(virq int)
}

// Domain maps a contiguous range of hwirqs onto global IRQ numbers.
type Domain struct {
	name  string
	first int
	size  int
}

// Name returns the domain's registration name.
func (d *Domain) Name() string { return d.name }

// First returns the first global IRQ number of the domain.
func (d *Domain) First() int { return d.first }

// Size returns the number of lines in the domain.
func (d *Domain) Size() int { return d.size }

// Virq translates a hwirq to its global IRQ number.
func (d *Domain) Virq(hw HWIRQ) (int, error) {
	if int(hw) >= d.size {
		return 0, fmt.Errorf("%w: hwirq %d outside domain %q (size %d)",
			ErrNotMapped, hw, d.name, d.size)
	}
	return d.first + int(hw), nil
}

type binding struct {
	domain      *Domain
	hw          HWIRQ
	chip        Chip
	handler     Handler
	chained     ChainedHandler
	trigger     Trigger
	enabledCPUs map[int]bool
}

// Registry allocates global IRQ numbers and owns line bindings. It is the
// explicitly-owned configuration object shared by controllers and drivers.
type Registry struct {
	mu       sync.Mutex
	next     int
	domains  map[string]*Domain
	bindings map[int]*binding
}

// NewRegistry returns an empty registry. Global IRQ numbers start at 1 so
// that zero and negative values remain usable as failure sentinels.
func NewRegistry() *Registry {
	return &Registry{
		next:     1,
		domains:  make(map[string]*Domain),
		bindings: make(map[int]*binding),
	}
}

// AllocIRQ allocates a standalone global IRQ number, optionally attaching
// a chip. Used for physical lines that belong to no linear domain.
func (r *Registry) AllocIRQ(chip Chip) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	virq := r.next
	r.next++
	r.bindings[virq] = &binding{chip: chip, enabledCPUs: make(map[int]bool)}
	return virq
}

// NewLinearDomain creates a named domain of size contiguous lines, all
// bound to chip. Domain names are unique within a registry.
func (r *Registry) NewLinearDomain(name string, size int, chip Chip) (*Domain, error) {
	if name == "" {
		return nil, fmt.Errorf("irq: domain name is empty")
	}
	if size < 1 {
		return nil, fmt.Errorf("irq: domain %q has invalid size %d", name, size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[name]; exists {
		return nil, fmt.Errorf("irq: domain %q already registered", name)
	}

	d := &Domain{name: name, first: r.next, size: size}
	for i := 0; i < size; i++ {
		r.bindings[r.next] = &binding{
			domain:      d,
			hw:          HWIRQ(i),
			chip:        chip,
			enabledCPUs: make(map[int]bool),
		}
		r.next++
	}
	r.domains[name] = d
	return d, nil
}

// Exists reports whether virq has been allocated in this registry.
func (r *Registry) Exists(virq int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[virq]
	return ok
}

// HasDomain reports whether a domain with the given name exists.
func (r *Registry) HasDomain(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.domains[name]
	return ok
}

func (r *Registry) binding(virq int) (*binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[virq]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIRQ, virq)
	}
	return b, nil
}

// RegisterHandler binds a handler to a global IRQ number.
func (r *Registry) RegisterHandler(virq int, h Handler) error {
	if h == nil {
		return fmt.Errorf("irq: handler for irq %d is nil", virq)
	}
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b.handler = h
	return nil
}

// Dispatch translates hw within d and invokes the bound handler on cpu.
// Returns ErrNoHandler if the line has no handler bound.
func (r *Registry) Dispatch(d *Domain, hw HWIRQ, cpu int) error {
	virq, err := d.Virq(hw)
	if err != nil {
		return err
	}
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	handler := b.handler
	r.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("%w: irq %d (hwirq %d)", ErrNoHandler, virq, hw)
	}
	handler(cpu)
	return nil
}

// Send delivers an IPI-capable line to the target CPUs via its chip.
func (r *Registry) Send(virq int, targets cpumask.Mask) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	if b.chip == nil {
		return fmt.Errorf("%w: irq %d", ErrNoChip, virq)
	}
	b.chip.Send(virq, targets)
	return nil
}

// Mask delegates to the line's chip.
func (r *Registry) Mask(virq int) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	if b.chip == nil {
		return fmt.Errorf("%w: irq %d", ErrNoChip, virq)
	}
	b.chip.Mask(virq)
	return nil
}

// Unmask delegates to the line's chip.
func (r *Registry) Unmask(virq int) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	if b.chip == nil {
		return fmt.Errorf("%w: irq %d", ErrNoChip, virq)
	}
	b.chip.Unmask(virq)
	return nil
}

// SetTriggerType records the trigger type configured for a line.
func (r *Registry) SetTriggerType(virq int, trigger Trigger) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b.trigger = trigger
	return nil
}

// TriggerType returns the trigger type configured for a line.
func (r *Registry) TriggerType(virq int) Trigger {
	b, err := r.binding(virq)
	if err != nil {
		return TriggerNone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.trigger
}

// EnablePerCPU enables a per-CPU line on cpu with the given trigger type.
func (r *Registry) EnablePerCPU(virq, cpu int, trigger Trigger) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	b.trigger = trigger
	b.enabledCPUs[cpu] = true
	r.mu.Unlock()
	return nil
}

// DisablePerCPU disables a per-CPU line on cpu.
func (r *Registry) DisablePerCPU(virq, cpu int) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(b.enabledCPUs, cpu)
	r.mu.Unlock()
	return nil
}

// EnabledOn reports whether a per-CPU line is enabled on cpu.
func (r *Registry) EnabledOn(virq, cpu int) bool {
	b, err := r.binding(virq)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.enabledCPUs[cpu]
}

// SetChainedHandler installs a demultiplexing handler on a parent line.
func (r *Registry) SetChainedHandler(virq int, fn ChainedHandler) error {
	if fn == nil {
		return fmt.Errorf("irq: chained handler for irq %d is nil", virq)
	}
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b.chained = fn
	return nil
}

// HasChainedHandler reports whether a chained handler is installed on virq.
func (r *Registry) HasChainedHandler(virq int) bool {
	b, err := r.binding(virq)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.chained != nil
}

// HandleLine delivers a physical interrupt on virq to its chained handler,
// bracketing the call with the parent chip's Ack/EOI protocol when the
// chip supports it.
func (r *Registry) HandleLine(virq, cpu int) error {
	b, err := r.binding(virq)
	if err != nil {
		return err
	}
	r.mu.Lock()
	chained := b.chained
	chip := b.chip
	r.mu.Unlock()
	if chained == nil {
		return fmt.Errorf("%w: irq %d has no chained handler", ErrNoHandler, virq)
	}

	cc, _ := chip.(ChainedChip)
	if cc != nil {
		cc.Ack(virq)
	}
	chained(cpu)
	if cc != nil {
		cc.EOI(virq)
	}
	return nil
}
