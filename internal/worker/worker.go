// Package worker runs the queue consumer that delivers queued mail.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/queue"
)

// DefaultConcurrency is the number of jobs processed in parallel when none
// is configured.
const DefaultConcurrency = 10

// Consumer builds dequeuers bound to a handler. *queue.Backend implements it.
type Consumer interface {
	Dequeuer(handler queue.MessageHandler, concurrency int) queue.Dequeuer
}

// Option customizes a Worker.
type Option func(*Worker)

// WithConcurrency sets how many jobs run at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithDebug makes setup failures non-fatal: they are logged and the worker
// reports ready.
func WithDebug(debug bool) Option {
	return func(w *Worker) { w.debug = debug }
}

// WithSignalHandling controls whether SIGINT and SIGTERM trigger Shutdown.
func WithSignalHandling(enabled bool) Option {
	return func(w *Worker) { w.handleSignals = enabled }
}

// WithShutdownTimeout sets the drain timeout used on signal-triggered
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// Worker owns the lifecycle of one queue consumer:
// stopped -> running -> stopped.
type Worker struct {
	consumer        Consumer
	handler         queue.MessageHandler
	concurrency     int
	debug           bool
	handleSignals   bool
	shutdownTimeout time.Duration
	log             zerolog.Logger

	mu          sync.Mutex
	running     bool
	dequeuer    queue.Dequeuer
	done        chan struct{}
	stopSignals func()
}

// New creates a stopped Worker.
func New(consumer Consumer, handler queue.MessageHandler, log zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		consumer:        consumer,
		handler:         handler,
		concurrency:     DefaultConcurrency,
		handleSignals:   true,
		shutdownTimeout: 30 * time.Second,
		log:             log,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins consuming jobs. Calling Start on a running worker does
// nothing. ready, when set, is called once the worker is up.
//
// A failure to start the consumer is logged and swallowed in debug mode,
// reported as ready when ready is set, and returned otherwise.
func (w *Worker) Start(ctx context.Context, ready func()) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	dq := w.consumer.Dequeuer(w.handler, w.concurrency)
	if err := dq.Start(ctx); err != nil {
		w.mu.Unlock()
		return w.setupFailed(err, ready)
	}

	w.dequeuer = dq
	w.running = true
	select {
	case <-w.done:
		w.done = make(chan struct{})
	default:
	}
	if w.handleSignals {
		w.stopSignals = w.watchSignals()
	}
	w.mu.Unlock()

	w.log.Info().Int("concurrency", w.concurrency).Msg("queue worker started")
	if ready != nil {
		ready()
	}
	return nil
}

func (w *Worker) setupFailed(err error, ready func()) error {
	switch {
	case w.debug:
		w.log.Error().Err(err).Msg("queue worker setup failed, continuing in debug mode")
		if ready != nil {
			ready()
		}
		return nil
	case ready != nil:
		w.log.Error().Err(err).Msg("queue worker setup failed")
		ready()
		return nil
	default:
		return fmt.Errorf("start queue worker: %w", err)
	}
}

// watchSignals shuts the worker down on SIGINT or SIGTERM. The returned
// func stops watching.
func (w *Worker) watchSignals() func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		select {
		case s := <-sig:
			w.log.Info().Str("signal", s.String()).Msg("shutting down queue worker")
			if err := w.Shutdown(w.shutdownTimeout); err != nil {
				w.log.Error().Err(err).Msg("queue worker shutdown")
			}
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sig)
			close(quit)
		})
	}
}

// Shutdown stops taking new jobs and waits up to timeout for in-flight jobs
// to finish. It is a no-op when the worker is not running.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	dq := w.dequeuer
	w.dequeuer = nil
	stopSignals := w.stopSignals
	w.stopSignals = nil
	done := w.done
	w.mu.Unlock()

	if stopSignals != nil {
		stopSignals()
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := dq.Stop(ctx)
	close(done)

	if errors.Is(err, queue.ErrShutdownTimeout) {
		w.log.Warn().Dur("timeout", timeout).Msg("queue worker stopped with jobs still in flight")
	}
	if err != nil {
		return fmt.Errorf("stop queue worker: %w", err)
	}
	w.log.Info().Msg("queue worker stopped")
	return nil
}

// Running reports whether the worker is consuming jobs.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Done is closed when the running worker stops.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}
