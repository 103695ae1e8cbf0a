package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"opencr/internal"
	"opencr/pkg/poster"
	"opencr/pkg/worker"
)

// ResultsTopic carries finished results waiting to be posted back to the
// source platform.
const ResultsTopic = "results.post"

// ResultsController drains the results topic into the poster.
type ResultsController struct {
	poster *poster.Poster
	logger *log.Logger
}

func NewResultsController(p *poster.Poster, logger *log.Logger) *ResultsController {
	if logger == nil {
		logger = internal.NewLogger("controller")
	}
	return &ResultsController{poster: p, logger: logger}
}

func (c *ResultsController) Register(w *worker.Worker) {
	w.HandleTopic(ResultsTopic, c.Handle)
}

func (c *ResultsController) Handle(ctx context.Context, evt *internal.Event) error {
	var req poster.Request
	if err := json.Unmarshal(evt.Payload, &req); err != nil {
		// Malformed results never post; log and move on.
		c.logger.Printf("malformed result delivery=%s: %v", evt.DeliveryID, err)
		return nil
	}
	if req.Platform == "" {
		req.Platform = evt.Platform
	}
	if req.AppID == "" {
		req.AppID = evt.AppID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "result/" + evt.DeliveryID
	}
	if req.InstallationID == 0 {
		req.InstallationID = InstallationID(evt)
	}

	outcome, err := c.poster.Post(ctx, req)
	if err != nil {
		return fmt.Errorf("post result delivery=%s: %w", evt.DeliveryID, err)
	}
	c.logger.Printf("result delivery=%s kind=%s outcome=%s", evt.DeliveryID, req.Kind, outcome)
	return nil
}
