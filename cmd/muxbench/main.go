// Command muxbench stress-tests the IPI mux: it simulates a number of
// CPUs as service goroutines behind a channel doorbell, fans signals
// out from concurrent senders, and verifies delivery. Signals to the
// same CPU and line coalesce while the CPU is backlogged, so the check
// is that every signaled (cpu, line) pair is dispatched at least once
// and never more often than it was signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ipimux/internal/cpumask"
	"github.com/tinyrange/ipimux/internal/doorbell"
	"github.com/tinyrange/ipimux/internal/hotplug"
	"github.com/tinyrange/ipimux/internal/irq"
	"github.com/tinyrange/ipimux/internal/mux"
)

type config struct {
	CPUs    int `yaml:"cpus"`
	Lines   int `yaml:"lines"`
	Senders int `yaml:"senders"`
	Signals int `yaml:"signals"`

	TimeoutSec int `yaml:"timeoutSec"`
}

func (c *config) normalize() {
	if c.CPUs == 0 {
		c.CPUs = 4
	}
	if c.Lines == 0 {
		c.Lines = 8
	}
	if c.Senders == 0 {
		c.Senders = 4
	}
	if c.Signals == 0 {
		c.Signals = 100000
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 30
	}
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

// tally counts per (cpu, line) events.
type tally struct {
	lines    int
	counters []atomic.Uint64
}

func newTally(cpus, lines int) *tally {
	return &tally{lines: lines, counters: make([]atomic.Uint64, cpus*lines)}
}

func (t *tally) add(cpu, line int)        { t.counters[cpu*t.lines+line].Add(1) }
func (t *tally) get(cpu, line int) uint64 { return t.counters[cpu*t.lines+line].Load() }

func (t *tally) total() (n uint64) {
	for i := range t.counters {
		n += t.counters[i].Load()
	}
	return n
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "muxbench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	cpus := flag.Int("cpus", 0, "number of simulated CPUs")
	lines := flag.Int("lines", 0, "number of virtual lines")
	senders := flag.Int("senders", 0, "number of sender goroutines")
	signals := flag.Int("signals", 0, "signals per sender")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cpus":
			cfg.CPUs = *cpus
		case "lines":
			cfg.Lines = *lines
		case "senders":
			cfg.Senders = *senders
		case "signals":
			cfg.Signals = *signals
		}
	})

	logger.Info("muxbench: starting",
		"cpus", cfg.CPUs, "lines", cfg.Lines,
		"senders", cfg.Senders, "signals", cfg.Signals)

	reg := irq.NewRegistry()
	notifier := hotplug.NewNotifier()

	bell, err := doorbell.NewChannel(cfg.CPUs)
	if err != nil {
		return err
	}

	parent := reg.AllocIRQ(nil)
	if err := reg.SetTriggerType(parent, irq.TriggerEdgeRising); err != nil {
		return err
	}

	m, err := mux.Create(mux.Config{
		CPUs:       cfg.CPUs,
		Lines:      cfg.Lines,
		ParentLine: parent,
		Ops:        bell,
		Registry:   reg,
		Hotplug:    notifier,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create mux: %w", err)
	}

	sent := newTally(cfg.CPUs, cfg.Lines)
	dispatched := newTally(cfg.CPUs, cfg.Lines)
	for line := 0; line < cfg.Lines; line++ {
		line := line
		err := reg.RegisterHandler(m.FirstVirq()+line, func(cpu int) {
			dispatched.add(cpu, line)
		})
		if err != nil {
			return fmt.Errorf("register handler for line %d: %w", line, err)
		}
	}

	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		if err := notifier.Online(cpu); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSec)*time.Second)
	defer cancel()

	serviceCtx, stopService := context.WithCancel(ctx)
	defer stopService()
	var service errgroup.Group
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		cpu := cpu
		service.Go(func() error {
			for {
				if err := bell.Wait(serviceCtx, cpu); err != nil {
					return nil
				}
				if err := reg.HandleLine(parent, cpu); err != nil {
					return fmt.Errorf("cpu %d: %w", cpu, err)
				}
			}
		})
	}

	start := time.Now()
	senderGroup, sendCtx := errgroup.WithContext(ctx)
	for s := 0; s < cfg.Senders; s++ {
		s := s
		senderGroup.Go(func() error {
			for i := 0; i < cfg.Signals; i++ {
				if sendCtx.Err() != nil {
					return sendCtx.Err()
				}
				line := (s + i) % cfg.Lines
				target := (s*31 + i) % cfg.CPUs
				if err := m.Send(line, cpumask.MaskOf(target)); err != nil {
					return err
				}
				sent.add(target, line)
			}
			return nil
		})
	}
	if err := senderGroup.Wait(); err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	// Let the backlog settle: delivery is complete once every signaled
	// pair has been dispatched at least once.
	deadline := time.Now().Add(5 * time.Second)
	for !settled(cfg, sent, dispatched) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stopService()
	if err := service.Wait(); err != nil {
		return err
	}

	var lost, spurious int
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		for line := 0; line < cfg.Lines; line++ {
			s, d := sent.get(cpu, line), dispatched.get(cpu, line)
			if s > 0 && d == 0 {
				lost++
			}
			if d > s {
				spurious++
			}
		}
	}

	elapsed := time.Since(start)
	logger.Info("muxbench: done",
		"sent", sent.total(), "dispatched", dispatched.total(),
		"coalesced", sent.total()-dispatched.total(),
		"elapsed", elapsed.Round(time.Millisecond))

	if lost > 0 || spurious > 0 {
		return fmt.Errorf("delivery check failed: %d pairs lost, %d pairs over-dispatched", lost, spurious)
	}
	return nil
}

func settled(cfg *config, sent, dispatched *tally) bool {
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		for line := 0; line < cfg.Lines; line++ {
			if sent.get(cpu, line) > 0 && dispatched.get(cpu, line) == 0 {
				return false
			}
		}
	}
	return true
}
