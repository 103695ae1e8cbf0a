package worker

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"opencr/pkg/dedup"
)

// Option is a function that configures a Worker.
type Option func(*Worker)

// WithSubscriber sets the Watermill subscriber for the worker.
func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) {
		w.subscriber = sub
	}
}

// WithTopics adds a list of topics for the worker to subscribe to.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		for _, topic := range topics {
			if topic == "" {
				continue
			}
			w.topics = append(w.topics, topic)
		}
	}
}

// WithShards sets the number of ordered processing lanes. Events sharing a
// partition key always land on the same lane, so raising the shard count
// increases cross-repository parallelism without reordering any repository.
func WithShards(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.shards = n
		}
	}
}

// WithCodec sets the codec for decoding messages.
func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithMiddleware adds middleware to the worker's handler chain.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mw...)
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithListener adds a listener to the worker.
func WithListener(listener Listener) Option {
	return func(w *Worker) {
		w.listeners = append(w.listeners, listener)
	}
}

// WithDedup wires the consumption-record store for a consumer group. Without
// it the worker processes at-least-once.
func WithDedup(store dedup.Store, group string) Option {
	return func(w *Worker) {
		w.store = store
		w.group = group
	}
}

// WithMaxAttempts bounds redeliveries per record before the worker marks it
// failed and stops retrying.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the redelivery backoff.
func WithBackoff(b Backoff) Option {
	return func(w *Worker) {
		w.backoff = b
	}
}

// WithHandlerTimeout bounds the processing time of one event.
func WithHandlerTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.handlerTimeout = d
		}
	}
}
