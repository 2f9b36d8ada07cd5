//go:build ignore

// Minimal usage sketch: a two-CPU mux in manual mode with a channel
// doorbell standing in for the physical interrupt.
//
// Run with: go run ipimux_example.go
package main

import (
	"context"
	"fmt"

	"github.com/tinyrange/ipimux"
	"github.com/tinyrange/ipimux/internal/doorbell"
)

func main() {
	reg := ipimux.NewRegistry()
	bell, err := doorbell.NewChannel(2)
	if err != nil {
		panic(err)
	}

	m, err := ipimux.Create(ipimux.Config{
		CPUs:     2,
		Lines:    4,
		Ops:      bell,
		Registry: reg,
	})
	if err != nil {
		panic(err)
	}

	done := make(chan struct{})
	if err := reg.RegisterHandler(m.FirstVirq()+1, func(cpu int) {
		fmt.Printf("line 1 dispatched on cpu %d\n", cpu)
		close(done)
	}); err != nil {
		panic(err)
	}

	go func() {
		if err := bell.Wait(context.Background(), 1); err != nil {
			return
		}
		m.Process(1)
	}()

	if err := m.Send(1, ipimux.MaskOf(1)); err != nil {
		panic(err)
	}
	<-done
}
