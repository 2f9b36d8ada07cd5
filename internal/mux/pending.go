package mux

import (
	"sync/atomic"

	"github.com/tinyrange/ipimux/internal/cpumask"
	"github.com/tinyrange/ipimux/internal/irq"
)

// pendingSet records which virtual lines are pending on each CPU. Bits
// are set by any CPU and drained only by the owning CPU, so the only
// race to resolve is a signaler racing the owner's drain; Or and Swap
// are sequentially consistent, which also covers the publish/observe
// ordering between a signal and the dispatch it wakes.
type pendingSet struct {
	words []atomic.Uint64
}

func newPendingSet(ncpus int) *pendingSet {
	return &pendingSet{words: make([]atomic.Uint64, ncpus)}
}

// signal sets bit line on every target CPU's pending word. CPUs outside
// the set's range are ignored.
func (p *pendingSet) signal(targets cpumask.Mask, line irq.HWIRQ) {
	bit := uint64(1) << line
	targets.ForEach(func(cpu int) {
		if cpu < len(p.words) {
			p.words[cpu].Or(bit)
		}
	})
}

// drain atomically fetches and clears cpu's pending word. Bits set after
// the exchange are left for the next dispatch cycle.
func (p *pendingSet) drain(cpu int) uint64 {
	if cpu < 0 || cpu >= len(p.words) {
		return 0
	}
	return p.words[cpu].Swap(0)
}

// peek returns cpu's pending word without clearing it.
func (p *pendingSet) peek(cpu int) uint64 {
	if cpu < 0 || cpu >= len(p.words) {
		return 0
	}
	return p.words[cpu].Load()
}
