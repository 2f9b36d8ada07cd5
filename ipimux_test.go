package ipimux_test

import (
	"errors"
	"testing"

	"github.com/tinyrange/ipimux"
)

type noopOps struct{}

func (noopOps) Send(parent int, targets ipimux.CPUMask) {}

func TestManualModeEndToEnd(t *testing.T) {
	reg := ipimux.NewRegistry()

	m, err := ipimux.Create(ipimux.Config{
		CPUs:     2,
		Lines:    4,
		Ops:      noopOps{},
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var got []int
	for line := 0; line < m.Lines(); line++ {
		line := line
		err := reg.RegisterHandler(m.FirstVirq()+line, func(cpu int) {
			got = append(got, line)
		})
		if err != nil {
			t.Fatalf("register handler: %v", err)
		}
	}

	for _, line := range []int{3, 0, 2} {
		if err := m.Send(line, ipimux.MaskOf(1)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	m.Process(1)

	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("dispatched = %v, want [0 2 3]", got)
	}
}

func TestDoubleCreateFails(t *testing.T) {
	reg := ipimux.NewRegistry()
	cfg := ipimux.Config{CPUs: 1, Ops: noopOps{}, Registry: reg}

	if _, err := ipimux.Create(cfg); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := ipimux.Create(cfg); !errors.Is(err, ipimux.ErrAlreadyCreated) {
		t.Fatalf("second create error = %v, want ErrAlreadyCreated", err)
	}
}
