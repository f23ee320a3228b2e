// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import "sync/atomic"

// MessageCounter counts messages towards the next batch commit.
// The zero value is ready to use.
type MessageCounter struct {
	n atomic.Int64
}

// Add increments the counter and returns the new count.
func (c *MessageCounter) Add() int64 {
	return c.n.Add(1)
}

// Count returns the current count.
func (c *MessageCounter) Count() int64 {
	return c.n.Load()
}

// Reached reports whether the count has reached size.
func (c *MessageCounter) Reached(size int) bool {
	return c.n.Load() >= int64(size)
}

// Reset sets the count back to zero.
func (c *MessageCounter) Reset() {
	c.n.Store(0)
}
