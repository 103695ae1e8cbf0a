package worker

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"opencr/internal"
)

// MiddlewareFromWatermill adapts a Watermill handler middleware (recoverer,
// throttle, ...) to the worker's handler chain.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *internal.Event) error {
			payload := evt.Payload
			if payload == nil {
				payload, _ = json.Marshal(evt)
			}
			msg := message.NewMessage(watermill.NewUUID(), message.Payload(payload))
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			wrapped := m(func(_ *message.Message) ([]*message.Message, error) {
				return nil, next(ctx, evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}
