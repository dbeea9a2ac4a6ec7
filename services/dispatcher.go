package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns the key→timer map behind the debounced dispatcher.
// Schedule replaces any pending timer for the key (single slot per key), so
// re-arming is atomic with respect to other operations on the same key.
type Scheduler interface {
	Schedule(key string, delay time.Duration)
	Cancel(key string)
	Shutdown()
}

// MemoryScheduler keeps the timers in process memory. This is the default:
// one dispatcher owner per conversation, timers lost on restart.
type MemoryScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	onFire func(key string)
	closed bool
}

// NewMemoryScheduler builds a scheduler that invokes onFire when a key's
// quiet period elapses
func NewMemoryScheduler(onFire func(key string)) *MemoryScheduler {
	return &MemoryScheduler{
		timers: make(map[string]*time.Timer),
		onFire: onFire,
	}
}

func (s *MemoryScheduler) Schedule(key string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}

	// The callback may already be running when a re-arm stops the old timer.
	// Only the timer that still owns the slot may fire, otherwise a re-arm
	// landing at the expiry moment would dispatch immediately instead of
	// waiting out the new quiet period.
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		owner := s.timers[key] == t
		if owner {
			delete(s.timers, key)
		}
		closed := s.closed
		s.mu.Unlock()

		if owner && !closed {
			s.onFire(key)
		}
	})
	s.timers[key] = t
}

func (s *MemoryScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Shutdown cancels every pending timer so nothing fires into a torn-down
// process
func (s *MemoryScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// DispatchParams identifies one pending assistant invocation. The assistant
// re-reads full conversation context itself, so identifiers are all we carry.
type DispatchParams struct {
	CompanyID      string
	ConversationID string
	PageID         string
	CustomerID     string
}

// AssistantCaller is the collaborator that produces an automated reply
type AssistantCaller interface {
	RequestReply(ctx context.Context, params DispatchParams) (*AssistantReply, error)
}

// Dispatcher coalesces bursts of customer messages into a single assistant
// call per conversation: each qualifying message replaces the conversation's
// pending timer, so the call fires once, a quiet period after the last
// message of the burst.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]DispatchParams

	sched     Scheduler
	assistant AssistantCaller
	process   func(ctx context.Context, params DispatchParams, reply *AssistantReply)
	timeout   time.Duration
}

// NewDispatcher wires a dispatcher. newScheduler receives the dispatcher's
// fire callback so a memory- or Redis-backed scheduler can be plugged in.
func NewDispatcher(
	newScheduler func(onFire func(key string)) Scheduler,
	assistant AssistantCaller,
	process func(ctx context.Context, params DispatchParams, reply *AssistantReply),
	timeout time.Duration,
) *Dispatcher {
	d := &Dispatcher{
		pending:   make(map[string]DispatchParams),
		assistant: assistant,
		process:   process,
		timeout:   timeout,
	}
	d.sched = newScheduler(d.fire)
	return d
}

// Arm schedules (or re-arms) the assistant dispatch for a conversation.
// N messages inside the window yield exactly one dispatch, delay after the
// last one.
func (d *Dispatcher) Arm(params DispatchParams, delay time.Duration) {
	d.mu.Lock()
	d.pending[params.ConversationID] = params
	d.mu.Unlock()

	d.sched.Schedule(params.ConversationID, delay)
	GetMetrics().DispatchesArmed.Inc()

	slog.Debug("Dispatch timer armed",
		"conversationID", params.ConversationID,
		"delay", delay)
}

// Cancel drops a pending dispatch without firing: handler changed away from
// the chatbot, the conversation closed, or an escalation landed.
func (d *Dispatcher) Cancel(conversationID string) {
	d.mu.Lock()
	_, wasPending := d.pending[conversationID]
	delete(d.pending, conversationID)
	d.mu.Unlock()

	d.sched.Cancel(conversationID)

	if wasPending {
		GetMetrics().DispatchCancelled.Inc()
		slog.Debug("Pending dispatch cancelled", "conversationID", conversationID)
	}
}

// Pending reports whether a dispatch is currently scheduled for the
// conversation
func (d *Dispatcher) Pending(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[conversationID]
	return ok
}

// Shutdown walks all pending timers and cancels them
func (d *Dispatcher) Shutdown() {
	d.sched.Shutdown()

	d.mu.Lock()
	n := len(d.pending)
	d.pending = make(map[string]DispatchParams)
	d.mu.Unlock()

	if n > 0 {
		slog.Info("Dispatcher shut down, pending dispatches dropped", "count", n)
	}
}

// fire runs when a conversation's quiet period elapses. Assistant failures
// are logged and swallowed: the customer simply gets no automated reply, and
// either the next message re-arms the timer or a human notices the thread.
func (d *Dispatcher) fire(conversationID string) {
	d.mu.Lock()
	params, ok := d.pending[conversationID]
	delete(d.pending, conversationID)
	d.mu.Unlock()

	if !ok {
		return
	}

	GetMetrics().DispatchesFired.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	reply, err := d.assistant.RequestReply(ctx, params)
	GetMetrics().AssistantDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		GetMetrics().AssistantFailures.Inc()
		slog.Warn("Assistant call failed",
			"conversationID", params.ConversationID,
			"error", err)
		return
	}

	d.process(ctx, params, reply)
}
