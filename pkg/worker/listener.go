package worker

import (
	"context"

	"opencr/internal"
)

// Listener provides hooks into the worker's lifecycle for logging, metrics, etc.
type Listener struct {
	// OnStart is called when the worker starts.
	OnStart func(ctx context.Context)
	// OnExit is called when the worker exits.
	OnExit func(ctx context.Context)
	// OnMessageStart is called when processing of an event begins.
	OnMessageStart func(ctx context.Context, evt *internal.Event)
	// OnMessageFinish is called when an event has been processed.
	OnMessageFinish func(ctx context.Context, evt *internal.Event, err error)
	// OnError is called when an error occurs.
	OnError func(ctx context.Context, evt *internal.Event, err error)
}
