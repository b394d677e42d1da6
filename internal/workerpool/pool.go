package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"iara/internal/logging"
)

// Class selects the slot family a job runs on.
type Class int

const (
	CPU Class = iota
	GPU
)

func (c Class) String() string {
	if c == GPU {
		return "gpu"
	}
	return "cpu"
}

// Stats is a snapshot of pool usage.
type Stats struct {
	CPUSlots  int   `json:"cpu_slots"`
	GPUSlots  int   `json:"gpu_slots"`
	CPUBusy   int64 `json:"cpu_busy"`
	GPUBusy   int64 `json:"gpu_busy"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
}

// Pool hands out CPU and GPU slots.
type Pool struct {
	cpu      *semaphore.Weighted
	gpu      *semaphore.Weighted
	cpuSlots int
	gpuSlots int
	logger   *slog.Logger

	cpuBusy   atomic.Int64
	gpuBusy   atomic.Int64
	waiting   atomic.Int64
	completed atomic.Int64
}

// New builds a pool. cpuSlots below one is raised to one.
func New(cpuSlots, gpuSlots int, logger *slog.Logger) *Pool {
	if cpuSlots < 1 {
		cpuSlots = 1
	}
	if gpuSlots < 0 {
		gpuSlots = 0
	}
	p := &Pool{
		cpu:      semaphore.NewWeighted(int64(cpuSlots)),
		cpuSlots: cpuSlots,
		gpuSlots: gpuSlots,
		logger:   logging.NewComponentLogger(logger, "workerpool"),
	}
	if gpuSlots > 0 {
		p.gpu = semaphore.NewWeighted(int64(gpuSlots))
	}
	return p
}

// Acquire blocks until a slot of the requested class is free or ctx ends.
// The returned class is the one actually granted.
func (p *Pool) Acquire(ctx context.Context, class Class) (Class, func(), error) {
	sem, busy := p.cpu, &p.cpuBusy
	if class == GPU && p.gpu != nil {
		sem, busy = p.gpu, &p.gpuBusy
	} else {
		class = CPU
	}

	p.waiting.Add(1)
	start := time.Now()
	err := sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return class, nil, fmt.Errorf("waiting for %s slot: %w", class, err)
	}
	if waited := time.Since(start); waited > time.Second {
		logging.WithContext(ctx, p.logger).Debug("slot granted after queueing",
			logging.String("class", class.String()),
			logging.Duration("waited", waited),
		)
	}
	busy.Add(1)

	var released atomic.Bool
	return class, func() {
		if released.Swap(true) {
			return
		}
		busy.Add(-1)
		p.completed.Add(1)
		sem.Release(1)
	}, nil
}

// Do runs fn while holding a slot of the requested class.
func Do[T any](ctx context.Context, p *Pool, class Class, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	_, release, err := p.Acquire(ctx, class)
	if err != nil {
		return zero, err
	}
	defer release()
	return fn(ctx)
}

// Stats returns a snapshot of slot usage.
func (p *Pool) Stats() Stats {
	return Stats{
		CPUSlots:  p.cpuSlots,
		GPUSlots:  p.gpuSlots,
		CPUBusy:   p.cpuBusy.Load(),
		GPUBusy:   p.gpuBusy.Load(),
		Waiting:   p.waiting.Load(),
		Completed: p.completed.Load(),
	}
}
