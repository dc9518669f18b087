package service

import (
	"context"
)

// Routing keys of published messages.
const (
	RoutingKeyAudit = "audit.recorded"
	RoutingKeyAlert = "alert.raised"
)

// EventPublisher delivers messages to a broker. payload is JSON encoded.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload any) error
}

// NopPublisher discards every message.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
