// Package queue holds the job queue backends that feed scraping workers:
// a bounded in-memory channel for single-process deployments and a Redis
// list for queues that survive restarts.
package queue

import "errors"

// ErrClosed is returned by Enqueue and Dequeue after a queue is closed.
var ErrClosed = errors.New("queue closed")
