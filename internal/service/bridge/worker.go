package bridge

import (
	"context"
	"time"
)

type job struct {
	text  string
	msgID string
}

// relayWorker sends one session's relay traffic in submission order. Each
// session has its own worker so a slow send never delays another session.
type relayWorker struct {
	queue   chan job
	done    chan struct{}
	closed  bool
	send    func(ctx context.Context, text string) error
	failed  func(j job, err error)
	drained func()
	timeout time.Duration
}

func newRelayWorker(size int, timeout time.Duration, send func(context.Context, string) error, failed func(job, error), drained func()) *relayWorker {
	w := &relayWorker{
		queue:   make(chan job, size),
		done:    make(chan struct{}),
		send:    send,
		failed:  failed,
		drained: drained,
		timeout: timeout,
	}
	go w.run()
	return w
}

func (w *relayWorker) run() {
	defer close(w.done)
	for j := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.send(ctx, j.text)
		cancel()
		if err != nil && w.failed != nil {
			w.failed(j, err)
		}
	}
	if w.drained != nil {
		w.drained()
	}
}

// enqueue reports false when the worker is stopped or its queue is full.
// Only the bridge loop calls enqueue and stop.
func (w *relayWorker) enqueue(j job) bool {
	if w.closed {
		return false
	}
	select {
	case w.queue <- j:
		return true
	default:
		return false
	}
}

// stop lets queued sends finish and then ends the worker.
func (w *relayWorker) stop() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

func (w *relayWorker) wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
