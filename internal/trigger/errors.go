package trigger

import "errors"

var (
	// ErrEmptyName is returned when Fire is called without a trigger name.
	ErrEmptyName = errors.New("trigger: empty trigger name")

	// ErrPublishFailed wraps transport errors from the publisher.
	ErrPublishFailed = errors.New("trigger: publish failed")

	// ErrQueueFull is returned by Queue.Fire when the queue is full.
	ErrQueueFull = errors.New("trigger: queue full")

	// ErrQueueClosed is returned by Queue.Fire after Close.
	ErrQueueClosed = errors.New("trigger: queue closed")
)
