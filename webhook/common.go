// Package webhook implements the per-platform receiver endpoints. Each
// handler authenticates the delivery against the app registry before any
// payload parsing, normalizes the platform payload into an internal.Event
// and appends it to the durable log.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"opencr/internal"
	"opencr/pkg/registry"
)

// ErrUnsupportedEvent marks deliveries whose event type has no normalized
// representation. They are acknowledged and dropped, never retried.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// normalizer is the per-platform part of the receiver: header extraction and
// payload-to-event mapping.
type normalizer interface {
	platform() string
	deliveryID(r *http.Request) string
	signature(r *http.Request) string
	normalize(r *http.Request, body []byte) (internal.Event, error)
}

// Handler runs the shared receive pipeline: authenticate, tap the raw
// delivery, normalize, scope-check, publish.
type Handler struct {
	norm      normalizer
	registry  *registry.Registry
	publisher internal.Publisher
	router    *internal.Router
	logger    *log.Logger
	timeout   time.Duration
	maxBody   int64
}

func newHandler(norm normalizer, reg *registry.Registry, publisher internal.Publisher, router *internal.Router, logger *log.Logger, cfg internal.ServerConfig) *Handler {
	if logger == nil {
		logger = internal.NewLogger("webhook")
	}
	return &Handler{
		norm:      norm,
		registry:  reg,
		publisher: publisher,
		router:    router,
		logger:    logger,
		timeout:   time.Duration(cfg.WebhookTimeoutMS) * time.Millisecond,
		maxBody:   cfg.MaxBodyBytes,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	platform := h.norm.platform()
	internal.IncRequest(platform)

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	appID := r.PathValue("app")
	app, err := h.registry.Resolve(appID)
	if err != nil {
		internal.IncAuthFailure(platform)
		h.logger.Printf("reject platform=%s app=%s: %v", platform, appID, err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Authentication happens before any payload parsing.
	if err := registry.Verify(app, platform, body, h.norm.signature(r)); err != nil {
		internal.IncAuthFailure(platform)
		h.logger.Printf("reject platform=%s app=%s: %v", platform, appID, err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !app.HasPermission(registry.PermReceiveWebhook) {
		h.logger.Printf("reject platform=%s app=%s: missing %s", platform, appID, registry.PermReceiveWebhook)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	deliveryID := h.norm.deliveryID(r)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	h.tapRaw(ctx, platform, appID, deliveryID, body)

	event, err := h.norm.normalize(r, body)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			internal.IncValidationDrop(platform)
			h.logger.Printf("drop platform=%s app=%s delivery=%s: %v", platform, appID, deliveryID, err)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Printf("malformed platform=%s app=%s delivery=%s: %v", platform, appID, deliveryID, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event.Platform = platform
	event.AppID = appID
	event.DeliveryID = deliveryID
	event.ReceivedAt = time.Now().UTC()
	event.Repo = event.Repo.Normalize()
	if event.Payload == nil {
		event.Payload = body
	}

	if event.Kind == internal.KindPing {
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.Repo.FullName != "" && !app.InScope(event.Repo) {
		h.logger.Printf("reject platform=%s app=%s delivery=%s: repository %s out of scope", platform, appID, deliveryID, event.Repo.FullName)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if err := h.publisher.Publish(ctx, internal.ValidatedTopic(platform), event); err != nil {
		h.logger.Printf("publish platform=%s delivery=%s failed: %v", platform, deliveryID, err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	h.fanOut(ctx, event)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"delivery_id": deliveryID})
}

// tapRaw appends the delivery to the pre-validation topic. Failures are
// logged only; the raw tap never gates acceptance.
func (h *Handler) tapRaw(ctx context.Context, platform, appID, deliveryID string, body []byte) {
	raw := internal.Event{
		Kind:       internal.KindOther,
		Platform:   platform,
		AppID:      appID,
		DeliveryID: deliveryID,
		ReceivedAt: time.Now().UTC(),
		Payload:    body,
	}
	if err := h.publisher.Publish(ctx, internal.RawTopic(platform), raw); err != nil {
		h.logger.Printf("raw tap platform=%s delivery=%s failed: %v", platform, deliveryID, err)
	}
}

// fanOut publishes the event to every routing-rule match. Fan-out targets
// are auxiliary; their failures do not fail the delivery.
func (h *Handler) fanOut(ctx context.Context, event internal.Event) {
	if h.router == nil {
		return
	}
	for _, match := range h.router.Evaluate(event) {
		if err := h.publisher.PublishForDrivers(ctx, match.Topic, event, match.Drivers); err != nil {
			h.logger.Printf("fan-out %s delivery=%s failed: %v", match.Topic, event.DeliveryID, err)
		}
	}
}

// repoFromFullName splits "owner/name". Payload-specific owner objects vary
// per event type, full_name does not.
func repoFromFullName(fullName string) internal.Repository {
	repo := internal.Repository{FullName: fullName}
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			repo.Owner = fullName[:i]
			repo.Name = fullName[i+1:]
			break
		}
	}
	return repo
}
