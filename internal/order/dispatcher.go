package order

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/proerror77/ploy-sub006/internal/schema"
)

// Executor turns a command into a terminal execution report.
type Executor interface {
	Execute(ctx context.Context, cmd schema.OrderCommand) schema.ExecutionReport
}

// Result pairs a dispatched command with its report.
type Result struct {
	Command schema.OrderCommand
	Report  schema.ExecutionReport
}

// Dispatcher runs a fixed pool of workers that execute commands handed over by
// the queue owner. Handoff never blocks: the owner only hands over when Idle() > 0.
type Dispatcher struct {
	executor Executor
	worker   int

	running atomic.Bool
	busy    atomic.Int32
	work    chan schema.OrderCommand
	results chan Result
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with workerCount workers.
func NewDispatcher(workerCount int, executor Executor) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Dispatcher{
		executor: executor,
		worker:   workerCount,
		work:     make(chan schema.OrderCommand, workerCount),
		results:  make(chan Result, workerCount),
	}
}

// Results delivers one Result per handed-over command.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Idle returns how many more commands can be handed over without blocking.
func (d *Dispatcher) Idle() int {
	return d.worker - int(d.busy.Load())
}

// InFlight returns the number of commands currently executing or waiting for a worker.
func (d *Dispatcher) InFlight() int {
	return int(d.busy.Load())
}

// Handle hands cmd to a worker. It returns false when no worker is free.
func (d *Dispatcher) Handle(cmd schema.OrderCommand) bool {
	if d.Idle() <= 0 {
		return false
	}
	d.busy.Add(1)
	select {
	case d.work <- cmd:
		return true
	default:
		d.busy.Add(-1)
		return false
	}
}

// Run starts the workers. ctx bounds every execution; canceling it lets the
// executor finish its own cancellation path (report + dead-letter).
func (d *Dispatcher) Run(ctx context.Context) {
	if d.running.Swap(true) {
		return
	}

	for i := 0; i < d.worker; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.workerExecute(ctx)
		}()
	}
}

// Wait blocks until all workers returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) workerExecute(ctx context.Context) {
	for {
		select {
		case cmd := <-d.work:
			d.execute(ctx, cmd)
		case <-ctx.Done():
			// commands already handed over still get a report
			for {
				select {
				case cmd := <-d.work:
					d.execute(ctx, cmd)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd schema.OrderCommand) {
	report := d.executor.Execute(ctx, cmd)
	// the owner always drains results, so this send only waits for the owner loop
	d.results <- Result{Command: cmd, Report: report}
	d.busy.Add(-1)
}
