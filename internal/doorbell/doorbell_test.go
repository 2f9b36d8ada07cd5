package doorbell

import (
	"context"
	"testing"
	"time"

	"github.com/tinyrange/ipimux/internal/cpumask"
)

func TestChannelSendWakesTarget(t *testing.T) {
	bell, err := NewChannel(2)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	bell.Send(0, cpumask.MaskOf(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bell.Wait(ctx, 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestChannelSendDoesNotWakeOthers(t *testing.T) {
	bell, err := NewChannel(2)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	bell.Send(0, cpumask.MaskOf(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bell.Wait(ctx, 0); err == nil {
		t.Fatalf("cpu 0 woke for cpu 1's ring")
	}
}

func TestChannelCoalesces(t *testing.T) {
	bell, err := NewChannel(1)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	// Multiple rings before service collapse into one wake.
	for i := 0; i < 5; i++ {
		bell.Send(0, cpumask.MaskOf(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bell.Wait(ctx, 0); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := bell.Wait(ctx2, 0); err == nil {
		t.Fatalf("coalesced rings produced a second wake")
	}
}

func TestChannelOutOfRangeTargetsIgnored(t *testing.T) {
	bell, err := NewChannel(1)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	// Must not panic.
	bell.Send(0, cpumask.MaskOf(5))

	if err := bell.Wait(context.Background(), 5); err == nil {
		t.Fatalf("wait on invalid cpu succeeded")
	}
}

func TestChannelInvalidCPUCount(t *testing.T) {
	if _, err := NewChannel(0); err == nil {
		t.Fatalf("zero CPU count accepted")
	}
}
