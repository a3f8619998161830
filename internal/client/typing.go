// Package client is the Go SDK for the chat server: REST calls, a reconnecting
// event connection and the local state a chat UI keeps on top of them.
package client

import (
	"sync"
	"time"
)

// TypingHysteresis is how long after the last keystroke the local user is
// still considered typing.
const TypingHysteresis = 3000 * time.Millisecond

type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// TypingDebouncer turns keystrokes in one chat into start and stop signals.
// While typing, keystrokes only move the activity timestamp; the single
// pending timer re-checks it when it fires.
type TypingDebouncer struct {
	mu        sync.Mutex
	hold      time.Duration
	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
	emit      func(typing bool)

	typing bool
	last   time.Time
	timer  timer
	gen    int
}

// NewTypingDebouncer calls emit(true) on the first keystroke and emit(false)
// once TypingHysteresis passes without one. emit runs without locks held.
func NewTypingDebouncer(emit func(typing bool)) *TypingDebouncer {
	return &TypingDebouncer{
		hold:      TypingHysteresis,
		now:       time.Now,
		afterFunc: realAfterFunc,
		emit:      emit,
	}
}

func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	d.last = d.now()
	if d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = true
	d.arm(d.hold)
	d.mu.Unlock()

	d.emit(true)
}

// arm must be called with mu held.
func (d *TypingDebouncer) arm(after time.Duration) {
	gen := d.gen
	d.timer = d.afterFunc(after, func() { d.fire(gen) })
}

func (d *TypingDebouncer) fire(gen int) {
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	elapsed := d.now().Sub(d.last)
	if elapsed < d.hold {
		// activity since the timer was armed, wait out the rest
		d.arm(d.hold - elapsed)
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(false)
}

// Stop ends typing right away, e.g. when the message is sent or the chat is closed.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	wasTyping := d.typing
	d.typing = false
	d.mu.Unlock()

	if wasTyping {
		d.emit(false)
	}
}

func (d *TypingDebouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}
