package doorbell

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ipimux/internal/cpumask"
)

// Eventfd is a Linux doorbell backed by one non-blocking eventfd per
// CPU. The eventfd counter aggregates rings until the owning CPU clears
// it, so it behaves as a level-triggered source and exposes the clear
// capability to the mux.
type Eventfd struct {
	fds []int
}

// NewEventfd returns an eventfd doorbell for ncpus CPUs.
func NewEventfd(ncpus int) (*Eventfd, error) {
	if ncpus < 1 {
		return nil, fmt.Errorf("doorbell: invalid CPU count %d", ncpus)
	}
	d := &Eventfd{fds: make([]int, 0, ncpus)}
	for i := 0; i < ncpus; i++ {
		fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("doorbell: eventfd for cpu %d: %w", i, err)
		}
		d.fds = append(d.fds, fd)
	}
	return d, nil
}

// Send rings the doorbell of every CPU in targets. Best-effort: a full
// counter drops the ring, which is safe because the pending word is the
// source of truth and the counter is already nonzero.
func (d *Eventfd) Send(parent int, targets cpumask.Mask) {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	targets.ForEach(func(cpu int) {
		if cpu >= len(d.fds) {
			return
		}
		_, _ = unix.Write(d.fds[cpu], buf[:])
	})
}

// Clear resets cpu's doorbell counter before the mux drains its pending
// word.
func (d *Eventfd) Clear(parent, cpu int) {
	if cpu < 0 || cpu >= len(d.fds) {
		return
	}
	var buf [8]byte
	_, _ = unix.Read(d.fds[cpu], buf[:])
}

// Wait blocks in poll(2) until cpu's doorbell has a pending ring.
func (d *Eventfd) Wait(cpu int) error {
	if cpu < 0 || cpu >= len(d.fds) {
		return fmt.Errorf("doorbell: invalid CPU %d", cpu)
	}
	pfd := []unix.PollFd{{Fd: int32(d.fds[cpu]), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("doorbell: poll cpu %d: %w", cpu, err)
		}
		if n > 0 {
			return nil
		}
	}
}

// Close releases every per-CPU eventfd.
func (d *Eventfd) Close() error {
	var firstErr error
	for _, fd := range d.fds {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.fds = nil
	return firstErr
}
