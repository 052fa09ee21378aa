// Package messaging provides abstractions for message broker communication.
// Services publish and consume lead lifecycle messages through these
// types without being coupled to a specific broker.
package messaging

import (
	"context"
	"time"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional message headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes a received message.
// A returned error signals a processing failure; durable consumers redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Broker is the connection-level view of a message broker client.
type Broker interface {
	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
}

// HealthStatus is the broker section of the readiness report.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth reports the connection state of b.
func CheckHealth(b Broker) HealthStatus {
	if b == nil {
		return HealthStatus{Error: "messaging disabled"}
	}
	if !b.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}
	return HealthStatus{Connected: true}
}
