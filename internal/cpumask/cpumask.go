// Package cpumask provides a compact bitmask over CPU ids.
package cpumask

import (
	"fmt"
	"math/bits"
	"strings"
)

const wordBits = 64

// Mask is a set of CPU ids. The zero value is an empty mask.
type Mask struct {
	words []uint64
}

// New returns an empty mask sized for ncpus CPUs.
func New(ncpus int) Mask {
	if ncpus <= 0 {
		return Mask{}
	}
	return Mask{words: make([]uint64, (ncpus+wordBits-1)/wordBits)}
}

// MaskOf returns a mask containing exactly the given CPUs.
func MaskOf(cpus ...int) Mask {
	var m Mask
	for _, cpu := range cpus {
		m.Set(cpu)
	}
	return m
}

// Set adds cpu to the mask, growing it if needed. Negative ids are ignored.
func (m *Mask) Set(cpu int) {
	if cpu < 0 {
		return
	}
	word := cpu / wordBits
	for word >= len(m.words) {
		m.words = append(m.words, 0)
	}
	m.words[word] |= 1 << (cpu % wordBits)
}

// Clear removes cpu from the mask.
func (m *Mask) Clear(cpu int) {
	if cpu < 0 {
		return
	}
	word := cpu / wordBits
	if word < len(m.words) {
		m.words[word] &^= 1 << (cpu % wordBits)
	}
}

// Test reports whether cpu is in the mask.
func (m Mask) Test(cpu int) bool {
	if cpu < 0 {
		return false
	}
	word := cpu / wordBits
	return word < len(m.words) && m.words[word]&(1<<(cpu%wordBits)) != 0
}

// Empty reports whether the mask contains no CPUs.
func (m Mask) Empty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of CPUs in the mask.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// ForEach calls fn for every CPU in the mask in ascending order.
func (m Mask) ForEach(fn func(cpu int)) {
	for i, w := range m.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(i*wordBits + bit)
			w &= w - 1
		}
	}
}

// Clone returns an independent copy of the mask.
func (m Mask) Clone() Mask {
	if len(m.words) == 0 {
		return Mask{}
	}
	words := make([]uint64, len(m.words))
	copy(words, m.words)
	return Mask{words: words}
}

func (m Mask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	m.ForEach(func(cpu int) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&sb, "%d", cpu)
	})
	sb.WriteByte('}')
	return sb.String()
}
