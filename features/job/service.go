package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"medrag/internal/worker"
)

const listLimit = 500

var errPublishTimeout = errors.New("timeout waiting for NSQ publish")

type Service struct {
	repo           Repository
	pub            worker.Publisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub worker.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: 5 * time.Second}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	links, err := s.repo.ListExhausted(ctx, listLimit)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(links))
	for _, l := range links {
		jobs = append(jobs, fromLink(l))
	}
	return jobs, nil
}

// Retry re-arms an exhausted link and queues a pass for its source.
func (s *Service) Retry(ctx context.Context, url string) error {
	source, err := s.repo.ResetAttempts(ctx, url)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- worker.PublishIngest(ctx, s.pub, source)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(s.publishTimeout):
		return errPublishTimeout
	}

	s.logger.InfoContext(ctx, "job retried", "url", url, "source", source)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	c, err := s.repo.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return c.Exhausted, nil
}
