package worker

import (
	"context"

	"opencr/internal"
)

// Handler processes one event from the log.
type Handler func(ctx context.Context, evt *internal.Event) error

// Middleware wraps a handler to add functionality.
type Middleware func(Handler) Handler
