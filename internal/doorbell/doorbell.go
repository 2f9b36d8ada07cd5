// Package doorbell provides physical-trigger backends for the IPI mux.
// A doorbell plays the role of the scarce per-CPU hardware interrupt:
// it carries no payload, only the fact that at least one signal arrived.
package doorbell

import (
	"context"
	"fmt"

	"github.com/tinyrange/ipimux/internal/cpumask"
)

// Channel is a portable in-process doorbell backed by one capacity-1
// channel per CPU. Sends coalesce while a CPU has not been serviced,
// which matches the level-style aggregate the mux expects.
type Channel struct {
	slots []chan struct{}
}

// NewChannel returns a doorbell for ncpus CPUs.
func NewChannel(ncpus int) (*Channel, error) {
	if ncpus < 1 {
		return nil, fmt.Errorf("doorbell: invalid CPU count %d", ncpus)
	}
	slots := make([]chan struct{}, ncpus)
	for i := range slots {
		slots[i] = make(chan struct{}, 1)
	}
	return &Channel{slots: slots}, nil
}

// Send rings the doorbell of every CPU in targets. Never blocks.
func (c *Channel) Send(parent int, targets cpumask.Mask) {
	targets.ForEach(func(cpu int) {
		if cpu >= len(c.slots) {
			return
		}
		select {
		case c.slots[cpu] <- struct{}{}:
		default:
			// Already ringing; the pending ring covers this send too.
		}
	})
}

// Wait blocks until cpu's doorbell rings or ctx is done. Receiving
// resets the doorbell, so no separate clear capability is needed.
func (c *Channel) Wait(ctx context.Context, cpu int) error {
	if cpu < 0 || cpu >= len(c.slots) {
		return fmt.Errorf("doorbell: invalid CPU %d", cpu)
	}
	select {
	case <-c.slots[cpu]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
