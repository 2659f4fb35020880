package events

import (
	"sync/atomic"
	"time"
)

// Outbound is the bounded channel of events handed to external consumers
// such as the event log. Producers never wait longer than the configured
// timeout: when the consumer falls behind, events are dropped and counted.
type Outbound struct {
	ch      chan Event
	timeout time.Duration
	dropped atomic.Uint64
}

func NewOutbound(capacity int, timeout time.Duration) *Outbound {
	if capacity < 0 {
		capacity = 0
	}
	return &Outbound{ch: make(chan Event, capacity), timeout: timeout}
}

// Publish reports whether evt was queued.
func (o *Outbound) Publish(evt Event) bool {
	select {
	case o.ch <- evt:
		return true
	default:
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()
	select {
	case o.ch <- evt:
		return true
	case <-timer.C:
		o.dropped.Add(1)
		return false
	}
}

// Receive waits up to timeout for the next event.
func (o *Outbound) Receive(timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt := <-o.ch:
		return evt, true
	case <-timer.C:
		return nil, false
	}
}

func (o *Outbound) C() <-chan Event { return o.ch }

func (o *Outbound) Dropped() uint64 { return o.dropped.Load() }

func (o *Outbound) Len() int { return len(o.ch) }
