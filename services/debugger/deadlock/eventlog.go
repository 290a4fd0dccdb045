// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deadlock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventLog is a fixed-capacity FIFO of structured events.
//
// # Description
//
// Appending never blocks and never fails: when the ring is full the oldest
// entry is evicted to make room (drop-oldest). The log is synchronized
// independently of the tracker so producers and consumers on other
// goroutines cannot stall an allocation operation.
//
// Two read contracts coexist:
//   - Drain removes what it returns (the reference drain-on-read behavior).
//   - Entries and Subscribe observe without consuming, for display layers
//     and live streams.
//
// # Thread Safety
//
// Safe for concurrent use.
type EventLog struct {
	mu      sync.Mutex
	buf     []Event
	start   int
	count   int
	metrics *Metrics

	subs    map[uint64]chan Event
	nextSub uint64
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind loses its oldest pending events.
const subscriberBuffer = 64

func newEventLog(capacity int, metrics *Metrics) *EventLog {
	return &EventLog{
		buf:     make([]Event, capacity),
		metrics: metrics,
		subs:    make(map[uint64]chan Event),
	}
}

// Append adds an event to the log, evicting the oldest entry if the ring
// is full, and fans the event out to subscribers without blocking.
func (l *EventLog) Append(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	if l.count == len(l.buf) {
		// Full: overwrite the oldest slot.
		l.buf[l.start] = e
		l.start = (l.start + 1) % len(l.buf)
		if l.metrics != nil {
			l.metrics.EventsDroppedTotal.Inc()
		}
	} else {
		l.buf[(l.start+l.count)%len(l.buf)] = e
		l.count++
	}

	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind: shed its oldest pending event and retry.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
	l.mu.Unlock()
}

// Drain returns all buffered events, oldest first, and empties the log.
// This read is destructive: a second Drain with no intervening appends
// returns nothing.
func (l *EventLog) Drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.copyLocked()
	l.start = 0
	l.count = 0
	return out
}

// Entries returns all buffered events, oldest first, without consuming
// them.
func (l *EventLog) Entries() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Subscribe registers a live event feed.
//
// # Description
//
// Returns a channel receiving every event appended after the call, and a
// cancel function that unregisters the subscription and closes the
// channel. Producers never block on a subscriber; a slow consumer loses
// its oldest pending events first.
//
// # Outputs
//
//   - <-chan Event: The feed. Closed by the cancel function.
//   - func(): Idempotent cancel.
func (l *EventLog) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (l *EventLog) copyLocked() []Event {
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

// FormatEntry renders an event as a display log entry. The component id
// attributes the entry to the process it concerns, falling back to the
// resource and then to the detector itself.
func FormatEntry(e Event) LogEntry {
	component := "deadlock_detector"
	switch {
	case e.ProcessID != "":
		component = "deadlock_process_" + e.ProcessID
	case e.ResourceID != "":
		component = "deadlock_resource_" + e.ResourceID
	}
	return LogEntry{
		Time:        e.Time,
		ComponentID: component,
		Message:     e.Describe(),
	}
}

// Describe returns a human-readable one-line rendering of the event.
func (e Event) Describe() string {
	switch e.Action {
	case ActionResourceRegistered:
		return fmt.Sprintf("resource %s registered (%s, %d instances)", e.ResourceID, e.Kind, e.Instances)
	case ActionResourceUnregistered:
		return fmt.Sprintf("resource %s unregistered", e.ResourceID)
	case ActionProcessRegistered:
		return fmt.Sprintf("process %s registered", e.ProcessID)
	case ActionProcessUnregistered:
		return fmt.Sprintf("process %s unregistered", e.ProcessID)
	case ActionResourceAcquired:
		return fmt.Sprintf("process %s acquired %d instance(s) of %s (%d available)",
			e.ProcessID, e.Instances, e.ResourceID, e.Available)
	case ActionResourceWaiting:
		return fmt.Sprintf("process %s waiting for %d instance(s) of %s (%d available)",
			e.ProcessID, e.Requested, e.ResourceID, e.Available)
	case ActionResourceReleased:
		return fmt.Sprintf("process %s released %d instance(s) of %s (%d available)",
			e.ProcessID, e.Instances, e.ResourceID, e.Available)
	case ActionResourceAcquiredAfterWait:
		return fmt.Sprintf("process %s acquired %d instance(s) of %s after waiting %s",
			e.ProcessID, e.Instances, e.ResourceID, e.WaitDuration.Round(time.Millisecond))
	case ActionResourceForceReleased:
		return fmt.Sprintf("process %s force-released %d instance(s) of %s",
			e.ProcessID, e.Instances, e.ResourceID)
	case ActionWaiterRemoved:
		return fmt.Sprintf("process %s removed from the wait queue of %s", e.ProcessID, e.ResourceID)
	case ActionDeadlockDetected:
		if len(e.Cycle) > 0 {
			return fmt.Sprintf("deadlock detected: %s -> %s", strings.Join(e.Cycle, " -> "), e.Cycle[0])
		}
		return "deadlock detected"
	case ActionSystemCleared:
		return "all tracked state cleared"
	default:
		if e.Message != "" {
			return e.Message
		}
		return string(e.Action)
	}
}
