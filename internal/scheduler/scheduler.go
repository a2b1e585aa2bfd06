// Package scheduler periodically queues a crawl pass for every enabled
// source.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"medrag/internal/config"
	"medrag/internal/middleware"
	"medrag/internal/worker"
)

type Scheduler struct {
	catalog   *config.Catalog
	publisher worker.Publisher
	interval  time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func New(c *config.Catalog, p worker.Publisher, interval time.Duration) *Scheduler {
	return &Scheduler{catalog: c, publisher: p, interval: interval}
}

// Start queues one round immediately and then one per interval until ctx
// ends or Stop is called. A non-positive interval disables the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 || s.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Tick publishes one ingest request per enabled source and returns how many
// were queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	ctx = middleware.WithCorrelationID(ctx, uuid.New().String())
	queued := 0
	for _, src := range s.catalog.Enabled() {
		if err := worker.PublishIngest(ctx, s.publisher, src.Name); err != nil {
			slog.ErrorContext(ctx, "failed to queue scheduled ingest", "source", src.Name, "error", err)
			continue
		}
		queued++
	}
	slog.InfoContext(ctx, "scheduled ingest round queued", "sources", queued)
	return queued
}
