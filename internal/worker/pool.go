package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrPoolRunning = errors.New("worker pool already running")

// Processor runs at most one job per call; *service.Queue implements it.
type Processor interface {
	ProcessOne(ctx context.Context) (bool, error)
}

// Pool polls the queue with N goroutines. Each one drains every eligible job,
// then sleeps for the poll interval.
type Pool struct {
	processor Processor
	workers   int
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	// done is closed once every worker of the current run has exited. The
	// pool counts as running until then, even after Stop gave up waiting.
	done chan struct{}
}

func NewPool(processor Processor, workers int, interval time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		processor: processor,
		workers:   workers,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the workers and returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		select {
		case <-p.done:
		default:
			return ErrPoolRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i + 1)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	p.logger.Info("worker pool started", "workers", p.workers, "poll_interval", p.interval)
	return nil
}

// Stop signals the workers and waits until they exit or ctx expires.
// A handler that is mid-flight finishes its current job first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	if cancel == nil {
		// already stopping or stopped; wait like the first caller
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cancel()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled, then stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Stop(context.Background())
}

func (p *Pool) loop(ctx context.Context, n int) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.drain(ctx, n)
		timer.Reset(p.interval)
	}
}

func (p *Pool) drain(ctx context.Context, n int) {
	for ctx.Err() == nil {
		found, err := p.processor.ProcessOne(ctx)
		if err != nil {
			p.logger.Error("process job", "worker", n, "error", err)
			return
		}
		if !found {
			return
		}
	}
}
