// Package worker consumes the durable log as part of a consumer group. It
// preserves per-repository ordering by pinning every partition key to one
// processing lane and makes redelivery harmless by recording consumption
// per (group, delivery) before acknowledging.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"opencr/internal"
	"opencr/pkg/dedup"
)

// Worker subscribes to topics, decodes events and dispatches them to
// handlers exactly once per consumer group.
type Worker struct {
	subscriber message.Subscriber
	codec      Codec
	logger     Logger
	shards     int
	topics     []string

	topicHandlers map[string]Handler
	kindHandlers  map[internal.Kind]Handler
	middleware    []Middleware
	listeners     []Listener

	store          dedup.Store
	group          string
	maxAttempts    int
	backoff        Backoff
	handlerTimeout time.Duration
}

type shardedMessage struct {
	topic string
	msg   *message.Message
}

// New creates a new Worker with the given options.
func New(opts ...Option) *Worker {
	w := &Worker{
		codec:         DefaultCodec{},
		logger:        stdLogger{},
		shards:        1,
		maxAttempts:   1,
		topicHandlers: make(map[string]Handler),
		kindHandlers:  make(map[internal.Kind]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleTopic registers a handler for a specific topic.
func (w *Worker) HandleTopic(topic string, h Handler) {
	if h == nil || topic == "" {
		return
	}
	w.topicHandlers[topic] = h
}

// HandleKind registers a handler for a normalized event kind. Topic handlers
// take precedence.
func (w *Worker) HandleKind(kind internal.Kind, h Handler) {
	if h == nil || kind == "" {
		return
	}
	w.kindHandlers[kind] = h
}

// Run starts the worker and blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if w.subscriber == nil {
		return errors.New("subscriber is required")
	}
	if len(w.topics) == 0 {
		return errors.New("at least one topic is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.notifyStart(ctx)
	defer w.notifyExit(ctx)

	lanes := make([]chan shardedMessage, w.shards)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan shardedMessage)
		wg.Add(1)
		go func(lane <-chan shardedMessage) {
			defer wg.Done()
			for sm := range lane {
				w.process(ctx, sm.topic, sm.msg)
			}
		}(lanes[i])
	}

	var dispatchWG sync.WaitGroup
	for _, topic := range unique(w.topics) {
		msgs, err := w.subscriber.Subscribe(ctx, topic)
		if err != nil {
			w.notifyError(ctx, nil, err)
			cancel()
			dispatchWG.Wait()
			for _, lane := range lanes {
				close(lane)
			}
			wg.Wait()
			return err
		}
		dispatchWG.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer dispatchWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					lane := lanes[w.laneFor(msg)]
					select {
					case <-ctx.Done():
						return
					case lane <- shardedMessage{topic: topic, msg: msg}:
					}
				}
			}
		}(topic, msgs)
	}

	<-ctx.Done()
	dispatchWG.Wait()
	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()
	return nil
}

// Close gracefully shuts down the worker and its subscriber.
func (w *Worker) Close() error {
	if w.subscriber == nil {
		return nil
	}
	return w.subscriber.Close()
}

// laneFor pins a message to a lane by its partition key. Messages without a
// key fall back to their UUID, which spreads them without ordering claims.
func (w *Worker) laneFor(msg *message.Message) int {
	key := msg.Metadata.Get(internal.MetaPartitionKey)
	if key == "" {
		key = msg.UUID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(w.shards))
}

func (w *Worker) process(ctx context.Context, topic string, msg *message.Message) {
	evt, err := w.codec.Decode(topic, msg)
	if err != nil {
		// Malformed payloads cannot succeed on redelivery.
		w.logger.Printf("decode failed topic=%s uuid=%s: %v", topic, msg.UUID, err)
		w.notifyError(ctx, nil, err)
		msg.Ack()
		return
	}

	recordID := recordID(topic, evt, msg)
	var attempts int
	if w.store != nil {
		rec, ok, err := w.store.Claim(ctx, w.group, recordID)
		if err != nil {
			w.logger.Printf("claim failed group=%s record=%s: %v", w.group, recordID, err)
			w.notifyError(ctx, evt, err)
			msg.Nack()
			return
		}
		if !ok {
			internal.IncDedupSkip(w.group)
			w.logger.Printf("skip group=%s record=%s status=%s", w.group, recordID, rec.Status)
			msg.Ack()
			return
		}
		attempts = rec.Attempts
	}

	handler := w.topicHandlers[topic]
	if handler == nil {
		handler = w.kindHandlers[evt.Kind]
	}
	if handler == nil {
		w.logger.Printf("no handler topic=%s kind=%s", topic, evt.Kind)
		w.resolve(ctx, recordID, nil)
		msg.Ack()
		return
	}

	w.notifyMessageStart(ctx, evt)
	herr := w.invoke(ctx, handler, evt)
	w.notifyMessageFinish(ctx, evt, herr)

	if herr == nil {
		if err := w.resolve(ctx, recordID, nil); err != nil {
			// The outcome is not durable yet; redeliver rather than lose it.
			msg.Nack()
			return
		}
		msg.Ack()
		return
	}

	internal.IncHandlerFailure(topic)
	w.notifyError(ctx, evt, herr)

	if w.store != nil && attempts >= w.maxAttempts {
		w.logger.Printf("giving up group=%s record=%s attempts=%d: %v", w.group, recordID, attempts, herr)
		if err := w.resolve(ctx, recordID, herr); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
		return
	}

	w.logger.Printf("retrying group=%s record=%s attempt=%d: %v", w.group, recordID, attempts, herr)
	w.wait(ctx, w.backoff.Delay(attempts))
	msg.Nack()
}

func (w *Worker) invoke(ctx context.Context, handler Handler, evt *internal.Event) error {
	if w.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.handlerTimeout)
		defer cancel()
	}
	wrapped := handler
	for i := len(w.middleware) - 1; i >= 0; i-- {
		wrapped = w.middleware[i](wrapped)
	}
	return wrapped(ctx, evt)
}

// resolve records the terminal outcome before the message is acknowledged.
func (w *Worker) resolve(ctx context.Context, recordID string, herr error) error {
	if w.store == nil {
		return nil
	}
	var err error
	if herr == nil {
		err = w.store.MarkSucceeded(ctx, w.group, recordID)
	} else {
		err = w.store.MarkFailed(ctx, w.group, recordID)
	}
	if err != nil && !errors.Is(err, dedup.ErrResolved) {
		w.logger.Printf("record outcome failed group=%s record=%s: %v", w.group, recordID, err)
		return err
	}
	return nil
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// recordID scopes a consumption record to one topic so a delivery fanned out
// onto several topics is tracked independently per topic.
func recordID(topic string, evt *internal.Event, msg *message.Message) string {
	id := evt.DeliveryID
	if id == "" {
		id = msg.UUID
	}
	return topic + "/" + id
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func (w *Worker) notifyStart(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnStart != nil {
			listener.OnStart(ctx)
		}
	}
}

func (w *Worker) notifyExit(ctx context.Context) {
	for _, listener := range w.listeners {
		if listener.OnExit != nil {
			listener.OnExit(ctx)
		}
	}
}

func (w *Worker) notifyMessageStart(ctx context.Context, evt *internal.Event) {
	for _, listener := range w.listeners {
		if listener.OnMessageStart != nil {
			listener.OnMessageStart(ctx, evt)
		}
	}
}

func (w *Worker) notifyMessageFinish(ctx context.Context, evt *internal.Event, err error) {
	for _, listener := range w.listeners {
		if listener.OnMessageFinish != nil {
			listener.OnMessageFinish(ctx, evt, err)
		}
	}
}

func (w *Worker) notifyError(ctx context.Context, evt *internal.Event, err error) {
	for _, listener := range w.listeners {
		if listener.OnError != nil {
			listener.OnError(ctx, evt, err)
		}
	}
}
