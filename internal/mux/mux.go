// Package mux multiplexes many virtual inter-processor interrupt lines
// over a single physical line per CPU. Senders set a bit in the target
// CPU's pending word and ring the physical doorbell; the receiving CPU
// drains its word and dispatches each pending line through the generic
// interrupt framework.
package mux

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinyrange/ipimux/internal/cpumask"
	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
)

// MaxLines bounds the number of multiplexed lines: one bit per line in a
// single per-CPU pending word.
const MaxLines = 64

// DomainName is the registry name under which the mux domain is created.
// A registry hosts at most one mux.
const DomainName = "ipi-mux"

var (
	// ErrMissingOps indicates absent ops or ops without the mandatory
	// send capability.
	ErrMissingOps = errors.New("mux: ops with send capability required")
	// ErrAlreadyCreated indicates the registry already hosts a mux domain.
	ErrAlreadyCreated = errors.New("mux: domain already created")
	// ErrBadLine indicates a virtual line outside the configured range.
	ErrBadLine = errors.New("mux: line out of range")
)

// Ops is the capability for driving the physical parent line. Send
// triggers the physical interrupt on every CPU in targets; it is
// best-effort and must not block.
type Ops interface {
	Send(parent int, targets cpumask.Mask)
}

// Clearer is optionally implemented by Ops when the physical line must
// be acknowledged at its source before draining. Clear always refers to
// the physical line of the CPU currently processing.
type Clearer interface {
	Clear(parent, cpu int)
}

// Config carries the collaborators and settings for Create.
type Config struct {
	// CPUs is the number of CPU slots, indexed 0..CPUs-1.
	CPUs int
	// Lines is the number of virtual lines, 1..MaxLines. Zero means MaxLines.
	Lines int
	// ParentLine selects the operating mode: a positive registry IRQ
	// number enables auto dispatch via a chained handler on that line;
	// zero or negative means the owning driver calls Process itself.
	ParentLine int
	// Ops is the mandatory physical-trigger capability.
	Ops Ops
	// Registry is the interrupt framework the domain is created in.
	Registry *irq.Registry
	// Hotplug delivers CPU online/offline events. Required in auto mode.
	Hotplug *hotplug.Notifier
	// Logger receives dispatch diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Mux is the multiplexing core. All fields are fixed at Create and the
// signal/drain/dispatch paths never block or allocate.
type Mux struct {
	reg     *irq.Registry
	domain  *irq.Domain
	pending *pendingSet
	ops     Ops
	clear   Clearer
	parent  int
	ncpus   int
	hpID    hotplug.ID

	log      *slog.Logger
	warnRate *rate.Limiter
}

// Create builds the virtual line domain on top of a single parent line.
//
// With ParentLine > 0 the mux installs itself as the parent's chained
// handler and registers hot-plug callbacks that enable and disable the
// per-CPU parent line as CPUs come and go. With ParentLine <= 0 nothing
// is registered and the owning driver must call Process from its own
// interrupt path.
//
// Create fails without side effects on incomplete configuration or if
// the registry already hosts a mux domain.
func Create(cfg Config) (*Mux, error) {
	if cfg.Ops == nil {
		return nil, ErrMissingOps
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("mux: registry required")
	}
	if cfg.CPUs < 1 {
		return nil, fmt.Errorf("mux: invalid CPU count %d", cfg.CPUs)
	}
	lines := cfg.Lines
	if lines == 0 {
		lines = MaxLines
	}
	if lines < 1 || lines > MaxLines {
		return nil, fmt.Errorf("mux: line count %d outside 1..%d", lines, MaxLines)
	}
	if cfg.Registry.HasDomain(DomainName) {
		return nil, ErrAlreadyCreated
	}
	auto := cfg.ParentLine > 0
	if auto {
		if !cfg.Registry.Exists(cfg.ParentLine) {
			return nil, fmt.Errorf("mux: parent line %d not allocated", cfg.ParentLine)
		}
		if cfg.Hotplug == nil {
			return nil, fmt.Errorf("mux: hotplug notifier required in auto mode")
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mux{
		reg:     cfg.Registry,
		pending: newPendingSet(cfg.CPUs),
		ops:     cfg.Ops,
		parent:  cfg.ParentLine,
		ncpus:   cfg.CPUs,
		log:     logger,
		// Bursts of 10 warnings, refilling over 5 seconds.
		warnRate: rate.NewLimiter(rate.Every(500*time.Millisecond), 10),
	}
	m.clear, _ = cfg.Ops.(Clearer)

	domain, err := cfg.Registry.NewLinearDomain(DomainName, lines, &muxChip{m: m})
	if err != nil {
		return nil, fmt.Errorf("mux: create domain: %w", err)
	}
	m.domain = domain

	if auto {
		if err := cfg.Registry.SetChainedHandler(cfg.ParentLine, m.Process); err != nil {
			return nil, fmt.Errorf("mux: chain parent line %d: %w", cfg.ParentLine, err)
		}
		id, err := cfg.Hotplug.Register("irqchip/ipi-mux",
			func(cpu int) error {
				return m.reg.EnablePerCPU(m.parent, cpu, m.reg.TriggerType(m.parent))
			},
			func(cpu int) error {
				return m.reg.DisablePerCPU(m.parent, cpu)
			})
		if err != nil {
			return nil, fmt.Errorf("mux: hotplug registration: %w", err)
		}
		m.hpID = id
	}

	return m, nil
}

// FirstVirq returns the global IRQ number of virtual line 0. The
// remaining lines are contiguous.
func (m *Mux) FirstVirq() int { return m.domain.First() }

// Lines returns the number of virtual lines.
func (m *Mux) Lines() int { return m.domain.Size() }

// CPUs returns the number of CPU slots.
func (m *Mux) CPUs() int { return m.ncpus }

// ParentLine returns the configured parent line, or <= 0 in manual mode.
func (m *Mux) ParentLine() int { return m.parent }

// Domain returns the virtual line domain.
func (m *Mux) Domain() *irq.Domain { return m.domain }

// Send signals virtual line on every CPU in targets and triggers the
// physical parent line. An empty target set is a no-op.
func (m *Mux) Send(line int, targets cpumask.Mask) error {
	if line < 0 || line >= m.domain.Size() {
		return fmt.Errorf("%w: %d", ErrBadLine, line)
	}
	m.sendMask(irq.HWIRQ(line), targets)
	return nil
}

func (m *Mux) sendMask(hw irq.HWIRQ, targets cpumask.Mask) {
	if targets.Empty() {
		return
	}
	m.pending.signal(targets, hw)
	m.ops.Send(m.parent, targets)
}

// Process drains cpu's pending lines and dispatches each one in
// ascending line order. It must only be called on behalf of cpu itself;
// in manual mode the owning driver calls it from its interrupt path, in
// auto mode it runs as the parent line's chained handler. A line whose
// dispatch fails is skipped with a ratelimited warning so one stale
// mapping cannot halt delivery of the rest.
func (m *Mux) Process(cpu int) {
	if m.clear != nil {
		m.clear.Clear(m.parent, cpu)
	}

	irqs := m.pending.drain(cpu)
	if irqs == 0 {
		return
	}

	for irqs != 0 {
		hw := irq.HWIRQ(bits.TrailingZeros64(irqs))
		irqs &= irqs - 1
		if err := m.reg.Dispatch(m.domain, hw, cpu); err != nil {
			if m.warnRate.Allow() {
				m.log.Warn("mux: can't find mapping for hwirq", "hwirq", uint32(hw), "err", err)
			}
		}
	}
}

// muxChip is the per-line controller installed on the domain. The
// physical resource cannot be masked per virtual line, so mask and
// unmask are no-ops; the only selective control is not signaling.
type muxChip struct {
	m *Mux
}

func (c *muxChip) Name() string { return "IPI Mux" }

func (c *muxChip) Mask(virq int) {}

func (c *muxChip) Unmask(virq int) {}

func (c *muxChip) Send(virq int, targets cpumask.Mask) {
	c.m.sendMask(irq.HWIRQ(virq-c.m.domain.First()), targets)
}

var _ irq.Chip = (*muxChip)(nil)
