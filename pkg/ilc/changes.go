// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"sync"
)

// ChangeKind is a command queued for the next cycle
type ChangeKind int

const (
	ChangeEnableFA ChangeKind = iota
	ChangeDisableFA
	ChangeEnableAllFA
	ChangeSetMode
)

// Change is one queued command
type Change struct {
	Kind       ChangeKind
	ActuatorID int32
	Mode       Mode
}

// String returns a short description of the change
func (c Change) String() string {
	switch c.Kind {
	case ChangeEnableFA:
		return fmt.Sprintf("enable FA %d", c.ActuatorID)
	case ChangeDisableFA:
		return fmt.Sprintf("disable FA %d", c.ActuatorID)
	case ChangeEnableAllFA:
		return "enable all FA"
	case ChangeSetMode:
		return fmt.Sprintf("set mode %s", c.Mode)
	default:
		return fmt.Sprintf("CHANGE(%d)", int(c.Kind))
	}
}

// ChangeQueue collects commands from other goroutines. The control loop
// takes the whole set at the start of a cycle, so nothing it reads changes
// while a cycle is in flight.
type ChangeQueue struct {
	mu      sync.Mutex
	pending []Change
}

// Push queues a change
func (q *ChangeQueue) Push(c Change) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
}

// Swap returns the queued changes in order and empties the queue
func (q *ChangeQueue) Swap() []Change {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	return pending
}

// Len returns the number of queued changes
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
