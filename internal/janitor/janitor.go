package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// PruneStore is the slice of the event store the janitor needs.
type PruneStore interface {
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

// Janitor deletes processed events older than the retention window on a
// cron schedule.
type Janitor struct {
	store  PruneStore
	maxAge time.Duration
	logger *slog.Logger
	nowFn  func() time.Time
	cron   *cron.Cron
}

type Option func(*Janitor)

func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) {
		if l != nil {
			j.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.nowFn = now
		}
	}
}

func New(store PruneStore, schedule string, maxAge time.Duration, opts ...Option) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("prune store is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive")
	}

	j := &Janitor{
		store:  store,
		maxAge: maxAge,
		logger: slog.Default(),
		nowFn:  time.Now,
		cron:   cron.New(),
	}
	for _, opt := range opts {
		opt(j)
	}

	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("prune processed events", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce prunes immediately with the configured retention window.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.nowFn().UTC().Add(-j.maxAge)
	n, err := j.store.PruneProcessed(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("pruned processed events", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
