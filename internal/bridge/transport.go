// Package bridge connects the device to the remote controller over a
// topic-based pub/sub transport. Inbound commands and settings are queued
// and applied by a single consumer goroutine; outbound messages are JSON.
package bridge

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("transport not connected")
	// ErrConnectTimeout is returned when the first connection attempt did
	// not complete in time.
	ErrConnectTimeout = errors.New("connection timeout")
)

// Message is one inbound pub/sub message.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives inbound messages. It is called from the transport's
// own goroutine and must not block.
type Handler func(Message)

// Transport is a pub/sub connection.
type Transport interface {
	Connect(ctx context.Context) error
	// Subscribe registers handler for topic. Subscriptions survive
	// reconnects.
	Subscribe(topic string, handler Handler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}
