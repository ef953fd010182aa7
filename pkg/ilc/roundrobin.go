// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

// RoundRobin rotates the low-priority status query through the enabled
// force actuators of one subnet
type RoundRobin struct {
	cursor int
	count  int
}

// Reset sets the number of devices in the rotation. The cursor is kept
// (modulo the new count) so a rebuild does not restart the rotation.
func (r *RoundRobin) Reset(count int) {
	r.count = count
	if count == 0 {
		r.cursor = 0
		return
	}
	r.cursor %= count
}

// Cursor returns the position of the device queried this cycle
func (r *RoundRobin) Cursor() int {
	return r.cursor
}

// Count returns the number of devices in the rotation
func (r *RoundRobin) Count() int {
	return r.count
}

// Advance moves to the next device and returns the new cursor
func (r *RoundRobin) Advance() int {
	if r.count == 0 {
		return 0
	}
	r.cursor = (r.cursor + 1) % r.count
	return r.cursor
}
