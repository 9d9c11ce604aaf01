package ports

import (
	"context"

	"github.com/layer-3/sessionkit/core"
)

// EventPublisher publishes session lifecycle events so that collaborators can
// drop state keyed by the previous principal
type EventPublisher interface {
	PublishSession(ctx context.Context, event core.SessionEvent) error
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) PublishSession(context.Context, core.SessionEvent) error { return nil }
