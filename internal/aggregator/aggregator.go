// Package aggregator coalesces bursts of forwarded messages.
//
// Forwarding a multi-item album arrives as several individual messages
// in quick succession. Each arrival restarts a per-chat settle timer;
// only after the burst has settled does the ready callback fire, so the
// destination-selection UI never appears mid-burst. The buffer itself
// survives the timer: it is consumed by dispatch or an explicit Clear.
package aggregator

import (
	"sync"
	"time"

	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// DefaultSettleWindow is the delay after the last arrival before a
// burst is considered complete.
const DefaultSettleWindow = 2 * time.Second

// ReadyFunc is invoked once per settled burst with a snapshot of the
// chat's buffer. It runs on a timer goroutine.
type ReadyFunc func(chatID int64, messages []transport.Message)

type Aggregator struct {
	settle time.Duration
	ready  ReadyFunc
	log    logx.Logger

	mu      sync.Mutex
	buffers map[int64][]transport.Message
	timers  map[int64]*time.Timer
	// gen invalidates superseded timers: a fire whose generation no
	// longer matches lost the race to a newer arrival and must not signal.
	gen map[int64]uint64
}

func New(settle time.Duration, ready ReadyFunc, log logx.Logger) *Aggregator {
	if settle <= 0 {
		settle = DefaultSettleWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{
		settle:  settle,
		ready:   ready,
		log:     log,
		buffers: make(map[int64][]transport.Message),
		timers:  make(map[int64]*time.Timer),
		gen:     make(map[int64]uint64),
	}
}

// Append buffers msg for chatID and restarts the chat's settle timer.
// Only the most recent arrival's timer survives.
func (a *Aggregator) Append(chatID int64, msg transport.Message) {
	a.mu.Lock()
	a.buffers[chatID] = append(a.buffers[chatID], msg)
	n := len(a.buffers[chatID])

	if t, ok := a.timers[chatID]; ok {
		t.Stop()
	}
	a.gen[chatID]++
	g := a.gen[chatID]
	a.timers[chatID] = time.AfterFunc(a.settle, func() { a.fire(chatID, g) })
	a.mu.Unlock()

	a.log.Debug("message buffered",
		logx.Int64("chat_id", chatID), logx.Int("message_id", msg.ID), logx.Int("buffered", n))
}

func (a *Aggregator) fire(chatID int64, g uint64) {
	a.mu.Lock()
	// A fresh Append may have superseded this timer between expiry and
	// lock acquisition; the newer timer owns the signal.
	if a.gen[chatID] != g {
		a.mu.Unlock()
		return
	}
	delete(a.timers, chatID)
	snapshot := append([]transport.Message(nil), a.buffers[chatID]...)
	a.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	a.log.Debug("burst settled", logx.Int64("chat_id", chatID), logx.Int("messages", len(snapshot)))
	if a.ready != nil {
		a.ready(chatID, snapshot)
	}
}

// Buffer returns a copy of the chat's pending messages.
func (a *Aggregator) Buffer(chatID int64) []transport.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.Message(nil), a.buffers[chatID]...)
}

// Clear empties the chat's buffer. In-flight timers are untouched; a
// later fire on an empty buffer is a no-op. Clearing an absent buffer
// is safe.
func (a *Aggregator) Clear(chatID int64) {
	a.mu.Lock()
	delete(a.buffers, chatID)
	a.mu.Unlock()
}

// Stop cancels every pending timer. Buffers are kept; pending signals
// are dropped.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	for id, t := range a.timers {
		t.Stop()
		a.gen[id]++
		delete(a.timers, id)
	}
	a.mu.Unlock()
}
