package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	incidents "safety-cloud/internal/incidents/domain"
	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/observability/metrics"
	"safety-cloud/internal/paging"
	streams "safety-cloud/internal/streams/domain"
)

const defaultNotifyTimeout = 30 * time.Second

// Event types emitted to the notifier.
const (
	EventOpened       = "opened"
	EventClosed       = "closed"
	EventRedispatched = "redispatched"
)

// Fan-out statuses reported next to the outcome statuses.
const (
	FanoutUnrecorded = "unrecorded"
	FanoutDuplicate  = "duplicate"
	FanoutFailed     = "failed"
)

// IncidentRepository persists incidents.
type IncidentRepository interface {
	Create(ctx context.Context, incident *incidents.Incident) error
	GetByID(ctx context.Context, id int64) (*incidents.Incident, error)
	UpdateEnd(ctx context.Context, id int64, endAt time.Time, videoURL string, updatedAt time.Time) (bool, error)
	List(ctx context.Context, offset, limit int) ([]incidents.Incident, error)
	Count(ctx context.Context) (int64, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]incidents.Incident, error)
	ListByStream(ctx context.Context, streamKey string) ([]incidents.Incident, error)
}

// StreamReader resolves the stream an incident references. Get returns nil
// when the stream does not exist.
type StreamReader interface {
	Get(ctx context.Context, key string) (*streams.Stream, error)
}

// Dispatcher fans an opened incident out to recipients. Redispatch retries a
// fan-out that never reached the gateway and refuses anything already pushed.
type Dispatcher interface {
	Dispatch(ctx context.Context, incident incidents.Incident) (notifications.Outcome, error)
	Redispatch(ctx context.Context, incident incidents.Incident) (notifications.Outcome, error)
}

// IncidentNotifier publishes incident lifecycle events.
type IncidentNotifier interface {
	Notify(ctx context.Context, event IncidentEvent)
}

// IncidentEvent represents a lifecycle update. Fanout is set on opened and
// redispatched events.
type IncidentEvent struct {
	Type     string             `json:"type"`
	Incident incidents.Incident `json:"incident"`
	Fanout   string             `json:"fanout,omitempty"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// OpenCommand is the input of OpenIncident. A zero StartAt means now.
type OpenCommand struct {
	StreamKey string
	Type      string
	StartAt   time.Time
}

// CloseCommand is the input of CloseIncident. A zero EndAt means now.
type CloseCommand struct {
	ID       int64
	EndAt    time.Time
	VideoURL string
}

// OpenResult carries the persisted incident and the secondary fan-out status.
type OpenResult struct {
	Incident  incidents.Incident
	Fanout    notifications.Outcome
	FanoutErr error
}

// FanoutStatus is the outcome status, or the failure class when err is set.
func FanoutStatus(outcome notifications.Outcome, err error) string {
	switch {
	case err == nil:
		return outcome.Status()
	case errors.Is(err, notifications.ErrDispatchUnrecorded):
		return FanoutUnrecorded
	case errors.Is(err, notifications.ErrAlreadyDispatched):
		return FanoutDuplicate
	default:
		return FanoutFailed
	}
}

// Page is a page of incidents.
type Page struct {
	PageNum   int                  `json:"pageNum"`
	PageSize  int                  `json:"pageSize"`
	HasNext   bool                 `json:"hasNext"`
	Incidents []incidents.Incident `json:"incidents"`
}

// Day is the incident projection for one UTC calendar date.
type Day struct {
	Date      time.Time            `json:"date"`
	Incidents []incidents.Incident `json:"incidents"`
}

// Detail is an incident joined with its stream.
type Detail struct {
	incidents.Incident
	Stream *streams.Stream `json:"stream"`
}

// Service manages the incident lifecycle.
type Service struct {
	repo          IncidentRepository
	streams       StreamReader
	dispatcher    Dispatcher
	notifier      IncidentNotifier
	clock         Clock
	logger        *zap.Logger
	notifyTimeout time.Duration
}

// ServiceOption customizes the incident service.
type ServiceOption func(*Service)

// WithNotifier assigns a lifecycle notifier.
func WithNotifier(notifier IncidentNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

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

// WithNotifyTimeout bounds each fan-out.
func WithNotifyTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.notifyTimeout = timeout
		}
	}
}

// NewService constructs an incident service.
func NewService(repo IncidentRepository, streamReader StreamReader, dispatcher Dispatcher, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("incidents: nil repository")
	}
	if streamReader == nil {
		return nil, errors.New("incidents: nil stream reader")
	}
	if dispatcher == nil {
		return nil, errors.New("incidents: nil dispatcher")
	}
	service := &Service{
		repo:          repo,
		streams:       streamReader,
		dispatcher:    dispatcher,
		clock:         systemClock{},
		logger:        zap.NewNop(),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// OpenIncident records a detection and fans it out to every recipient.
//
// The incident is committed before the fan-out starts. A fan-out failure is
// reported in OpenResult.FanoutErr and never undoes the incident. The opened
// event is emitted after the fan-out so lifecycle notifiers never delay a push.
func (s *Service) OpenIncident(ctx context.Context, cmd OpenCommand) (*OpenResult, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	incidentType, err := incidents.ParseType(cmd.Type)
	if err != nil {
		return nil, err
	}
	key, err := streams.ParseKey(cmd.StreamKey)
	if err != nil {
		return nil, incidents.ErrInvalidStreamKey
	}
	stream, err := s.streams.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, incidents.ErrStreamNotFound
	}

	class, _ := incidents.Classify(incidentType)
	now := s.clock.Now().UTC()
	startAt := cmd.StartAt.UTC()
	if cmd.StartAt.IsZero() {
		startAt = now
	}
	incident := &incidents.Incident{
		StreamKey: key,
		Type:      incidentType,
		Level:     class.Level,
		Reason:    class.Reason,
		StartAt:   startAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("incidents: create: %w", err)
	}
	metrics.IncIncidentOpened(string(incident.Type), incident.Level.String())
	s.logger.Info("incident opened",
		zap.Int64("accident_id", incident.ID),
		zap.String("stream_key", key),
		zap.String("type", string(incident.Type)),
		zap.Stringer("level", incident.Level),
	)

	result := s.fanOut(ctx, *incident, s.dispatcher.Dispatch)
	s.notify(ctx, EventOpened, *incident, FanoutStatus(result.Fanout, result.FanoutErr))
	return result, nil
}

// Redispatch retries the fan-out of a stored incident. Refusals come back as
// errors: ErrAlreadyDispatched when the incident was already pushed and
// ErrRedispatchUnavailable when no dispatch claim can be taken. Any other
// fan-out failure is reported in OpenResult.FanoutErr.
func (s *Service) Redispatch(ctx context.Context, id int64) (*OpenResult, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	if id <= 0 {
		return nil, incidents.ErrInvalidID
	}
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, incidents.ErrNotFound
	}

	result := s.fanOut(ctx, *incident, s.dispatcher.Redispatch)
	if errors.Is(result.FanoutErr, notifications.ErrAlreadyDispatched) ||
		errors.Is(result.FanoutErr, notifications.ErrRedispatchUnavailable) {
		return nil, result.FanoutErr
	}
	s.notify(ctx, EventRedispatched, *incident, FanoutStatus(result.Fanout, result.FanoutErr))
	return result, nil
}

type dispatchFunc func(ctx context.Context, incident incidents.Incident) (notifications.Outcome, error)

// fanOut runs dispatch detached from the caller's cancellation and bounded by
// the notify timeout.
func (s *Service) fanOut(ctx context.Context, incident incidents.Incident, dispatch dispatchFunc) *OpenResult {
	result := &OpenResult{Incident: incident}
	fanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	result.Fanout, result.FanoutErr = dispatch(fanCtx, incident)
	if result.FanoutErr != nil {
		s.logger.Warn("incident fan-out failed",
			zap.Int64("accident_id", incident.ID),
			zap.Error(result.FanoutErr),
		)
	}
	return result
}

// CloseIncident records the end instant and optional evidence reference.
// Closing again overwrites end_at; the evidence reference is kept unless a new
// one is supplied.
func (s *Service) CloseIncident(ctx context.Context, cmd CloseCommand) (*incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	if cmd.ID <= 0 {
		return nil, incidents.ErrInvalidID
	}
	current, err := s.repo.GetByID(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, incidents.ErrNotFound
	}

	now := s.clock.Now().UTC()
	endAt := cmd.EndAt.UTC()
	if cmd.EndAt.IsZero() {
		endAt = now
	}
	if endAt.Before(current.StartAt) {
		return nil, incidents.ErrInvalidEnd
	}
	videoURL := strings.TrimSpace(cmd.VideoURL)
	if videoURL == "" {
		videoURL = current.VideoURL
	}

	ok, err := s.repo.UpdateEnd(ctx, cmd.ID, endAt, videoURL, now)
	if err != nil {
		return nil, fmt.Errorf("incidents: close: %w", err)
	}
	if !ok {
		return nil, incidents.ErrNotFound
	}
	current.EndAt = &endAt
	current.VideoURL = videoURL
	current.UpdatedAt = now

	metrics.IncIncidentClosed()
	s.logger.Info("incident closed",
		zap.Int64("accident_id", current.ID),
		zap.Time("end_at", endAt),
	)
	s.notify(ctx, EventClosed, *current, "")
	return current, nil
}

// ListIncidents returns incidents ordered by start_at descending.
func (s *Service) ListIncidents(ctx context.Context, page paging.Request) (*Page, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	if page.Num < 1 || page.Size < 1 {
		return nil, paging.ErrInvalid
	}
	list, err := s.repo.List(ctx, page.Offset(), page.Limit())
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	return &Page{
		PageNum:   page.Num,
		PageSize:  page.Size,
		HasNext:   page.HasNext(total),
		Incidents: list,
	}, nil
}

// ListByDay returns the incidents that started on the given UTC date.
// An empty date means today.
func (s *Service) ListByDay(ctx context.Context, date string) (*Day, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	day, err := incidents.ParseDay(date, s.clock.Now())
	if err != nil {
		return nil, err
	}
	from, to := incidents.DayRange(day)
	list, err := s.repo.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	return &Day{Date: day, Incidents: list}, nil
}

// ListByStream returns the incidents of one stream, newest first.
func (s *Service) ListByStream(ctx context.Context, rawKey string) ([]incidents.Incident, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	key, err := streams.ParseKey(rawKey)
	if err != nil {
		return nil, incidents.ErrInvalidStreamKey
	}
	stream, err := s.streams.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, incidents.ErrStreamNotFound
	}
	list, err := s.repo.ListByStream(ctx, key)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []incidents.Incident{}
	}
	return list, nil
}

// GetWithStream returns an incident and the stream it was detected on.
func (s *Service) GetWithStream(ctx context.Context, id int64) (*Detail, error) {
	if s == nil {
		return nil, errors.New("incidents: nil service")
	}
	if id <= 0 {
		return nil, incidents.ErrInvalidID
	}
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, incidents.ErrNotFound
	}
	stream, err := s.streams.Get(ctx, incident.StreamKey)
	if err != nil {
		return nil, err
	}
	return &Detail{Incident: *incident, Stream: stream}, nil
}

func (s *Service) notify(ctx context.Context, eventType string, incident incidents.Incident, fanout string) {
	if s.notifier == nil {
		return
	}
	metrics.IncIncidentEvent(eventType)
	s.notifier.Notify(ctx, IncidentEvent{Type: eventType, Incident: incident, Fanout: fanout})
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
