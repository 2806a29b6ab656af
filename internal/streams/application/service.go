package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	streams "safety-cloud/internal/streams/domain"
)

// Repository persists streams.
type Repository interface {
	Get(ctx context.Context, key string) (*streams.Stream, error)
	List(ctx context.Context) ([]streams.Stream, error)
	SetStatus(ctx context.Context, key string, status streams.Status, at time.Time) (bool, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service drives stream status transitions requested by the media server hooks.
type Service struct {
	repo   Repository
	clock  Clock
	logger *zap.Logger
}

// ServiceOption customizes the stream service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a stream service.
func NewService(repo Repository, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("streams: nil repository")
	}
	service := &Service{repo: repo, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Get returns a stream by key.
func (s *Service) Get(ctx context.Context, rawKey string) (*streams.Stream, error) {
	key, err := streams.ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	stream, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, streams.ErrNotFound
	}
	return stream, nil
}

// List returns every registered stream.
func (s *Service) List(ctx context.Context) ([]streams.Stream, error) {
	return s.repo.List(ctx)
}

// Verify marks a stream as broadcasting.
func (s *Service) Verify(ctx context.Context, rawKey string) error {
	return s.transition(ctx, rawKey, streams.StatusLive)
}

// End marks a stream as idle.
func (s *Service) End(ctx context.Context, rawKey string) error {
	return s.transition(ctx, rawKey, streams.StatusIdle)
}

func (s *Service) transition(ctx context.Context, rawKey string, status streams.Status) error {
	if s == nil {
		return errors.New("streams: nil service")
	}
	key, err := streams.ParseKey(rawKey)
	if err != nil {
		return err
	}
	ok, err := s.repo.SetStatus(ctx, key, status, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return streams.ErrNotFound
	}
	s.logger.Info("stream status changed", zap.String("stream_key", key), zap.String("status", string(status)))
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
