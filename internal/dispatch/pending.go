package dispatch

import "sync"

// Outcome is delivered to waiters when their event reaches a terminal state.
type Outcome struct {
	EventID  string
	Status   string // done or failed
	Response string
	Reason   string // failure reason, empty on done
}

// Waiters lets a producer block until an event it pushed is processed.
// Dedup can hand the same event id to several producers, so each id keeps a
// list of channels.
type Waiters struct {
	mu    sync.Mutex
	chans map[string][]chan Outcome
}

// NewWaiters builds an empty registry.
func NewWaiters() *Waiters {
	return &Waiters{chans: make(map[string][]chan Outcome)}
}

// Wait registers interest in an event. The returned channel receives exactly
// one Outcome and is never closed without a send.
func (w *Waiters) Wait(eventID string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	w.mu.Lock()
	w.chans[eventID] = append(w.chans[eventID], ch)
	w.mu.Unlock()
	return ch
}

// Discard removes one previously registered channel, for callers that gave
// up waiting. A concurrent Notify may still have delivered to the buffered
// channel; that send is simply dropped with it.
func (w *Waiters) Discard(eventID string, ch <-chan Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chans := w.chans[eventID]
	for i, c := range chans {
		if c == ch {
			w.chans[eventID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(w.chans[eventID]) == 0 {
		delete(w.chans, eventID)
	}
}

// Notify resolves every waiter registered for the outcome's event. Safe to
// call for events nobody is waiting on.
func (w *Waiters) Notify(out Outcome) {
	w.mu.Lock()
	chans := w.chans[out.EventID]
	delete(w.chans, out.EventID)
	w.mu.Unlock()
	for _, ch := range chans {
		ch <- out
	}
}
