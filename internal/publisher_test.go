package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// stubPublisher records published messages and can fail a number of times.
type stubPublisher struct {
	published    int
	failuresLeft int
	lastTopic    string
	lastPayload  []byte
	lastMetadata message.Metadata
}

func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return errors.New("broker unavailable")
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

func (s *stubPublisher) Close() error { return nil }

func withStubDriver(t *testing.T, name string, stub *stubPublisher) {
	t.Helper()
	orig, had := publisherFactories[name]
	t.Cleanup(func() {
		if had {
			publisherFactories[name] = orig
		} else {
			delete(publisherFactories, name)
		}
	})
	RegisterPublisherDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, nil, nil
	})
}

func TestPublishStampsMetadata(t *testing.T) {
	stub := &stubPublisher{}
	withStubDriver(t, "stub", stub)

	pub, err := NewPublisher(WatermillConfig{Driver: "stub", PublishRetry: PublishRetryConfig{Attempts: 1}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	evt := Event{
		Kind:       KindPullRequestOpened,
		Platform:   "github",
		AppID:      "a1",
		Repo:       Repository{Owner: "org", Name: "repo"}.Normalize(),
		DeliveryID: "d-100",
	}
	if err := pub.Publish(context.Background(), ValidatedTopic("github"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if stub.published != 1 || stub.lastTopic != "github.validated" {
		t.Fatalf("expected one publish to github.validated, got %d to %q", stub.published, stub.lastTopic)
	}
	if got := stub.lastMetadata.Get(MetaPartitionKey); got != "github/org/repo" {
		t.Fatalf("expected partition key github/org/repo, got %q", got)
	}
	if got := stub.lastMetadata.Get(MetaDeliveryID); got != "d-100" {
		t.Fatalf("expected delivery id d-100, got %q", got)
	}

	var decoded Event
	if err := json.Unmarshal(stub.lastPayload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.DeliveryID != "d-100" || decoded.Kind != KindPullRequestOpened {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	stub := &stubPublisher{failuresLeft: 2}
	withStubDriver(t, "stub", stub)

	pub, err := NewPublisher(WatermillConfig{
		Driver:       "stub",
		PublishRetry: PublishRetryConfig{Attempts: 3, DelayMS: 1},
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.Publish(context.Background(), "t", Event{DeliveryID: "d-1"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected exactly one successful publish, got %d", stub.published)
	}
}

func TestPublishSurfacesExhaustedRetries(t *testing.T) {
	stub := &stubPublisher{failuresLeft: 10}
	withStubDriver(t, "stub", stub)

	pub, err := NewPublisher(WatermillConfig{
		Driver:       "stub",
		PublishRetry: PublishRetryConfig{Attempts: 2, DelayMS: 1},
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	err = pub.Publish(context.Background(), "t", Event{DeliveryID: "d-1"})
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
	if stub.published != 0 {
		t.Fatalf("expected no successful publish, got %d", stub.published)
	}
}

func TestPublisherMuxTargetsDrivers(t *testing.T) {
	first := &stubPublisher{}
	second := &stubPublisher{}
	withStubDriver(t, "first", first)
	withStubDriver(t, "second", second)

	pub, err := NewPublisher(WatermillConfig{
		Drivers:      []string{"first", "second"},
		PublishRetry: PublishRetryConfig{Attempts: 1},
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.PublishForDrivers(context.Background(), "t", Event{DeliveryID: "d-1"}, []string{"second"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if first.published != 0 || second.published != 1 {
		t.Fatalf("expected only second driver to publish, got first=%d second=%d", first.published, second.published)
	}

	if err := pub.Publish(context.Background(), "t", Event{DeliveryID: "d-2"}); err != nil {
		t.Fatalf("publish all: %v", err)
	}
	if first.published != 1 || second.published != 2 {
		t.Fatalf("expected fan-out to both drivers, got first=%d second=%d", first.published, second.published)
	}
}
