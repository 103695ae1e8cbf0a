package internal

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// riverQueuePublisher appends events as River jobs so downstream services
// that already run a River worker pool can consume the stream without a
// broker in between.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
	retry  retrier
}

type riverEventArgs struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`

	kind string
}

func (a riverEventArgs) Kind() string { return a.kind }

func newRiverQueuePublisher(cfg RiverQueueConfig, retry retrier) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = "opencr.event"
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Insert-only client: no workers, no queues.
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg, retry: retry}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	args := riverEventArgs{Topic: topic, Event: event, kind: p.cfg.Kind}
	opts := &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
	}
	err := p.retry.do(ctx, func() error {
		_, insertErr := p.client.Insert(ctx, args, opts)
		return insertErr
	})
	if err != nil {
		IncPublishError("riverqueue")
	}
	return err
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}

func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
