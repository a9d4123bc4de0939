package infrastructure

import (
	"context"
	"sync"
	"time"
)

// Connection statuses reported by WhatsApp transports
const (
	StatusUnknown      = "unknown"
	StatusWaitingQR    = "waiting_qr"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusLoggedOut    = "logged_out"
	StatusTimeout      = "timeout"
	StatusCancelled    = "cancelled"
)

// IsTerminalStatus reports whether polling should stop on this status
func IsTerminalStatus(status string) bool {
	return status == StatusConnected || status == StatusLoggedOut
}

// StatusProbe reads the current connection status once
type StatusProbe func(ctx context.Context) (string, error)

type PollUpdate struct {
	Status string
	Err    error
	At     time.Time
}

// PollTask is a running status poll. It ends on a terminal status, on
// timeout, on Cancel or when the parent context ends.
type PollTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result string
}

// StartPoll probes immediately and then every interval. onUpdate runs on the
// polling goroutine whenever the status or probe error changes, and once
// more with StatusTimeout if the deadline is reached.
func StartPoll(ctx context.Context, interval, timeout time.Duration, probe StatusProbe, onUpdate func(PollUpdate)) *PollTask {
	pctx, cancel := context.WithCancel(ctx)
	t := &PollTask{cancel: cancel, done: make(chan struct{}), result: StatusUnknown}
	go t.run(pctx, interval, timeout, probe, onUpdate)
	return t
}

func (t *PollTask) Cancel() { t.cancel() }

func (t *PollTask) Done() <-chan struct{} { return t.done }

// Result is the final status once Done is closed, the last seen one before
func (t *PollTask) Result() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *PollTask) set(status string) {
	t.mu.Lock()
	t.result = status
	t.mu.Unlock()
}

func (t *PollTask) run(ctx context.Context, interval, timeout time.Duration, probe StatusProbe, onUpdate func(PollUpdate)) {
	defer close(t.done)
	defer t.cancel()

	emit := func(u PollUpdate) {
		if onUpdate != nil {
			onUpdate(u)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last PollUpdate
	first := true
	for {
		status, err := probe(ctx)
		if ctx.Err() != nil {
			t.set(StatusCancelled)
			return
		}
		if err != nil && status == "" {
			status = StatusUnknown
		}
		t.set(status)
		if first || status != last.Status || (err == nil) != (last.Err == nil) {
			last = PollUpdate{Status: status, Err: err, At: time.Now()}
			emit(last)
			first = false
		}
		if err == nil && IsTerminalStatus(status) {
			return
		}

		select {
		case <-ctx.Done():
			t.set(StatusCancelled)
			return
		case <-deadline.C:
			t.set(StatusTimeout)
			emit(PollUpdate{Status: StatusTimeout, At: time.Now()})
			return
		case <-ticker.C:
		}
	}
}
