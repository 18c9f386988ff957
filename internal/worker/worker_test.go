package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/mailer"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/store"
)

type mockDequeuer struct {
	startErr error
	stopErr  error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (m *mockDequeuer) Start(context.Context) error {
	m.started.Add(1)
	return m.startErr
}

func (m *mockDequeuer) Stop(context.Context) error {
	m.stopped.Add(1)
	return m.stopErr
}

type mockConsumer struct {
	mu          sync.Mutex
	dq          *mockDequeuer
	concurrency []int
}

func (m *mockConsumer) Dequeuer(_ queue.MessageHandler, concurrency int) queue.Dequeuer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concurrency = append(m.concurrency, concurrency)
	return m.dq
}

var noopHandler = queue.HandlerFunc(func(context.Context, *queue.Message) (json.RawMessage, error) {
	return nil, nil
})

func TestWorker_StartIsIdempotent(t *testing.T) {
	c := &mockConsumer{dq: &mockDequeuer{}}
	w := New(c, noopHandler, zerolog.Nop(), WithSignalHandling(false), WithConcurrency(3))

	for range 2 {
		if err := w.Start(context.Background(), nil); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	if got := c.dq.started.Load(); got != 1 {
		t.Errorf("expected dequeuer started once, got %d", got)
	}
	if len(c.concurrency) != 1 || c.concurrency[0] != 3 {
		t.Errorf("unexpected concurrency %v", c.concurrency)
	}
	if !w.Running() {
		t.Error("expected running worker")
	}

	_ = w.Shutdown(time.Second)
}

func TestWorker_DefaultConcurrency(t *testing.T) {
	c := &mockConsumer{dq: &mockDequeuer{}}
	w := New(c, noopHandler, zerolog.Nop(), WithSignalHandling(false), WithConcurrency(0))

	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown(time.Second)

	if c.concurrency[0] != DefaultConcurrency {
		t.Errorf("expected %d, got %d", DefaultConcurrency, c.concurrency[0])
	}
}

func TestWorker_ReadyCalledOnStart(t *testing.T) {
	w := New(&mockConsumer{dq: &mockDequeuer{}}, noopHandler, zerolog.Nop(), WithSignalHandling(false))

	ready := 0
	if err := w.Start(context.Background(), func() { ready++ }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown(time.Second)

	if ready != 1 {
		t.Errorf("expected ready once, got %d", ready)
	}
}

func TestWorker_SetupFailureMatrix(t *testing.T) {
	setupErr := errors.New("redis unreachable")

	tests := []struct {
		name      string
		debug     bool
		withReady bool
		wantErr   bool
		wantReady bool
	}{
		{"debug with ready", true, true, false, true},
		{"debug without ready", true, false, false, false},
		{"ready without debug", false, true, false, true},
		{"neither", false, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(&mockConsumer{dq: &mockDequeuer{startErr: setupErr}}, noopHandler, zerolog.Nop(),
				WithSignalHandling(false), WithDebug(tt.debug))

			readyCalled := false
			var ready func()
			if tt.withReady {
				ready = func() { readyCalled = true }
			}

			err := w.Start(context.Background(), ready)
			if tt.wantErr {
				if !errors.Is(err, setupErr) {
					t.Fatalf("expected setup error, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if readyCalled != tt.wantReady {
				t.Errorf("ready called = %v, want %v", readyCalled, tt.wantReady)
			}
			if w.Running() {
				t.Error("worker must not be running after setup failure")
			}
		})
	}
}

func TestWorker_ShutdownWhenStoppedIsNoop(t *testing.T) {
	c := &mockConsumer{dq: &mockDequeuer{}}
	w := New(c, noopHandler, zerolog.Nop(), WithSignalHandling(false))

	if err := w.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c.dq.stopped.Load() != 0 {
		t.Error("stopped worker must not touch the dequeuer")
	}
}

func TestWorker_ShutdownClosesDone(t *testing.T) {
	c := &mockConsumer{dq: &mockDequeuer{}}
	w := New(c, noopHandler, zerolog.Nop(), WithSignalHandling(false))
	done := w.Done()

	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after shutdown")
	}
	if err := w.Shutdown(time.Second); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
	if c.dq.stopped.Load() != 1 {
		t.Errorf("expected one stop, got %d", c.dq.stopped.Load())
	}

	// A restarted worker gets a fresh Done channel.
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	select {
	case <-w.Done():
		t.Fatal("Done closed on a running worker")
	default:
	}
	_ = w.Shutdown(time.Second)
}

func TestWorker_ShutdownTimeout(t *testing.T) {
	c := &mockConsumer{dq: &mockDequeuer{stopErr: queue.ErrShutdownTimeout}}
	w := New(c, noopHandler, zerolog.Nop(), WithSignalHandling(false))

	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Shutdown(10 * time.Millisecond); !errors.Is(err, queue.ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	if w.Running() {
		t.Error("worker should be stopped")
	}
}

// A queued mail is picked up by the worker and delivered.
func TestWorker_DeliversQueuedMail(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	backend, err := queue.New(ctx, queue.Config{Type: "memory", MaxRetries: 1}, log)
	if err != nil {
		t.Fatalf("queue backend: %v", err)
	}

	mem := store.NewMemory()
	svc := mailer.New(mem, nil, nil, mailer.Config{Environment: "test"}, log, mailer.WithEnqueuer(backend.Enqueuer))
	w := New(backend, NewHandler(svc.Store(), svc, log), log, WithSignalHandling(false), WithConcurrency(2))

	if err := w.Start(ctx, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Shutdown(time.Second)

	rec, err := svc.Queue(ctx, &mail.Input{
		Type:    "confirm",
		From:    "a@b.com",
		To:      mail.Recipients{"x@y.com"},
		Subject: "S",
		HTML:    "<b>hi</b>",
	}, mail.Options{})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := mem.FindByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.State() == mail.StateSent {
			if !got.Response.Succeeded() {
				t.Errorf("unexpected response %+v", got.Response)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("record %s not delivered, state %s", rec.ID, got.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
