package worker

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"

	"opencr/internal"
)

// Codec decodes a log message into an event.
type Codec interface {
	Decode(topic string, msg *message.Message) (*internal.Event, error)
}

// DefaultCodec decodes the JSON envelope the receiver publishes. Envelope
// fields missing from the payload are backfilled from message metadata so
// messages injected by other producers still resolve.
type DefaultCodec struct{}

func (DefaultCodec) Decode(topic string, msg *message.Message) (*internal.Event, error) {
	var evt internal.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, err
	}

	if evt.DeliveryID == "" {
		evt.DeliveryID = msg.Metadata.Get(internal.MetaDeliveryID)
	}
	if evt.Platform == "" {
		evt.Platform = msg.Metadata.Get(internal.MetaPlatform)
	}
	if evt.AppID == "" {
		evt.AppID = msg.Metadata.Get(internal.MetaAppID)
	}
	if evt.Kind == "" {
		evt.Kind = internal.Kind(msg.Metadata.Get(internal.MetaKind))
	}

	if evt.Metadata == nil && len(msg.Metadata) > 0 {
		evt.Metadata = make(map[string]string, len(msg.Metadata))
	}
	for key, value := range msg.Metadata {
		if _, set := evt.Metadata[key]; !set {
			evt.Metadata[key] = value
		}
	}
	return &evt, nil
}
