// Package controllers wires the consumer-group handlers: pull request
// intake, comment commands and result posting.
package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"opencr/internal"
	"opencr/pkg/poster"
	"opencr/pkg/registry"
	"opencr/pkg/scm"
	"opencr/pkg/worker"
)

// ReviewTopic carries change snapshots ready for analysis.
const ReviewTopic = "pull_request.review"

// StatusContext names the commit status the pipeline maintains.
const StatusContext = "opencr/review"

// PullRequestController reacts to change lifecycle events: it fetches the
// full change snapshot, hands it to the review topic and pins a pending
// status on the head commit.
type PullRequestController struct {
	registry  *registry.Registry
	adapters  poster.AdapterSource
	publisher internal.Publisher
	poster    *poster.Poster
	logger    *log.Logger
}

func NewPullRequestController(reg *registry.Registry, adapters poster.AdapterSource, publisher internal.Publisher, p *poster.Poster, logger *log.Logger) *PullRequestController {
	if logger == nil {
		logger = internal.NewLogger("controller")
	}
	return &PullRequestController{
		registry:  reg,
		adapters:  adapters,
		publisher: publisher,
		poster:    p,
		logger:    logger,
	}
}

// Register subscribes the controller to the kinds it reacts to.
func (c *PullRequestController) Register(w *worker.Worker) {
	for _, kind := range []internal.Kind{
		internal.KindPullRequestOpened,
		internal.KindPullRequestReopened,
		internal.KindPullRequestSynchronized,
	} {
		w.HandleKind(kind, c.Handle)
	}
}

func (c *PullRequestController) Handle(ctx context.Context, evt *internal.Event) error {
	app, err := c.registry.Resolve(evt.AppID)
	if err != nil {
		return fmt.Errorf("resolve app %q: %w", evt.AppID, err)
	}
	if !app.HasPermission(registry.PermReadChange) {
		// Nothing to fetch for this app; not a retryable condition.
		c.logger.Printf("app=%s lacks %s, skipping %s", app.ID, registry.PermReadChange, evt.DeliveryID)
		return nil
	}

	adapter, err := c.adapters.Adapter(ctx, evt.Platform, app, InstallationID(evt))
	if err != nil {
		return fmt.Errorf("adapter %s: %w", evt.Platform, err)
	}
	change, err := adapter.FetchChange(ctx, evt.Repo, evt.ChangeID)
	if err != nil {
		return fmt.Errorf("fetch change %s/%s: %w", evt.Repo.FullName, evt.ChangeID, err)
	}

	review := *evt
	snapshot, err := json.Marshal(struct {
		Event  internal.Event `json:"event"`
		Change scm.Change     `json:"change"`
	}{Event: *evt, Change: change})
	if err != nil {
		return err
	}
	review.Payload = snapshot
	if err := c.publisher.Publish(ctx, ReviewTopic, review); err != nil {
		return err
	}

	c.postPendingStatus(ctx, evt, change)
	return nil
}

// postPendingStatus marks the head commit as in review. Status posting is
// best effort; a platform hiccup here must not fail the intake.
func (c *PullRequestController) postPendingStatus(ctx context.Context, evt *internal.Event, change scm.Change) {
	ref := change.HeadSHA
	if ref == "" {
		ref = evt.Metadata["head_sha"]
	}
	if ref == "" || c.poster == nil {
		return
	}
	outcome, err := c.poster.Post(ctx, poster.Request{
		Platform:       evt.Platform,
		AppID:          evt.AppID,
		Repo:           evt.Repo,
		ChangeID:       evt.ChangeID,
		Kind:           poster.KindStatus,
		IdempotencyKey: "status/" + evt.DeliveryID,
		Status: &scm.Status{
			Ref:         ref,
			State:       scm.StatusPending,
			Context:     StatusContext,
			Description: "review queued",
		},
		InstallationID: InstallationID(evt),
	})
	if err != nil {
		c.logger.Printf("pending status delivery=%s: %v", evt.DeliveryID, err)
		return
	}
	c.logger.Printf("pending status delivery=%s outcome=%s", evt.DeliveryID, outcome)
}

// InstallationID reads the GitHub App installation from event metadata.
func InstallationID(evt *internal.Event) int64 {
	raw := evt.Metadata["installation_id"]
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
