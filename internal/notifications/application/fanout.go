package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	incidents "safety-cloud/internal/incidents/domain"
	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/notifications/push"
	"safety-cloud/internal/observability/metrics"
)

// DispatchTx is the transactional view used by a single fan-out.
type DispatchTx interface {
	GetContent(ctx context.Context, key string) (*notifications.Content, error)
	ListRecipients(ctx context.Context) ([]notifications.Recipient, error)
	HasDeliveries(ctx context.Context, incidentID int64) (bool, error)
	InsertDeliveries(ctx context.Context, records []notifications.DeliveryRecord) error
}

// DispatchStore runs fn inside one transaction. It commits when fn returns nil
// and rolls back otherwise.
type DispatchStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx DispatchTx) error) error
}

// ClaimStore guards against a second fan-out for the same incident. Keys come
// from ClaimKey.
type ClaimStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ClaimKey identifies one incident across id reuse: the id plus its creation
// instant at the microsecond precision Postgres keeps.
func ClaimKey(incident incidents.Incident) string {
	return strconv.FormatInt(incident.ID, 10) + ":" + strconv.FormatInt(incident.CreatedAt.UTC().UnixMicro(), 10)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine fans an incident out to every recipient with one multicast and
// records one delivery row per recipient.
type Engine struct {
	store   DispatchStore
	gateway push.Gateway
	claims  ClaimStore
	clock   Clock
	logger  *zap.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClaimStore enables the duplicate dispatch guard.
func WithClaimStore(claims ClaimStore) EngineOption {
	return func(e *Engine) {
		e.claims = claims
	}
}

// WithEngineClock assigns a clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineLogger assigns a logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs a fan-out engine.
func NewEngine(store DispatchStore, gateway push.Gateway, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("fanout: nil store")
	}
	if gateway == nil {
		return nil, errors.New("fanout: nil gateway")
	}
	engine := &Engine{
		store:   store,
		gateway: gateway,
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Dispatch sends the incident push and records delivery outcomes.
//
// A gateway error leaves no rows behind. Once the gateway has accepted the
// multicast, any persistence failure is reported as ErrDispatchUnrecorded and
// must not be retried by resending.
func (e *Engine) Dispatch(ctx context.Context, incident incidents.Incident) (notifications.Outcome, error) {
	if e == nil {
		return notifications.Outcome{}, errors.New("fanout: nil engine")
	}
	return e.run(ctx, incident, false)
}

// Redispatch retries the fan-out of an incident whose earlier attempt never
// reached the gateway. It needs the claim store: an incident that was pushed,
// recorded or not, keeps its claim and is refused with ErrAlreadyDispatched.
// Without a claim store, or when it cannot be reached, ErrRedispatchUnavailable
// is returned and nothing is sent.
func (e *Engine) Redispatch(ctx context.Context, incident incidents.Incident) (notifications.Outcome, error) {
	if e == nil {
		return notifications.Outcome{}, errors.New("fanout: nil engine")
	}
	if e.claims == nil {
		return notifications.Outcome{IncidentID: incident.ID}, notifications.ErrRedispatchUnavailable
	}
	return e.run(ctx, incident, true)
}

func (e *Engine) run(ctx context.Context, incident incidents.Incident, strict bool) (notifications.Outcome, error) {
	started := time.Now()
	outcome, err := e.dispatch(ctx, incident, strict)
	result := fanoutResult(outcome, err)
	metrics.ObserveFanout(result, time.Since(started))
	if err == nil {
		metrics.AddDeliveries(outcome.Sent, outcome.Failed, outcome.Skipped)
	}
	return outcome, err
}

func (e *Engine) dispatch(ctx context.Context, incident incidents.Incident, strict bool) (notifications.Outcome, error) {
	outcome := notifications.Outcome{IncidentID: incident.ID}
	if incident.ID <= 0 {
		return outcome, errors.New("fanout: incident id required")
	}
	class, ok := incidents.Classify(incident.Type)
	if !ok {
		return outcome, incidents.ErrInvalidType
	}
	log := e.logger.With(zap.Int64("accident_id", incident.ID), zap.String("type", string(incident.Type)))

	claimKey := ClaimKey(incident)
	claimed := false
	if e.claims != nil {
		ok, err := e.claims.Claim(ctx, claimKey)
		switch {
		case err != nil && strict:
			return outcome, fmt.Errorf("%w: %w", notifications.ErrRedispatchUnavailable, err)
		case err != nil:
			log.Warn("dispatch claim unavailable, continuing without guard", zap.Error(err))
		case !ok:
			return outcome, notifications.ErrAlreadyDispatched
		default:
			claimed = true
		}
	}

	dispatched := false
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx DispatchTx) error {
		content, err := tx.GetContent(ctx, class.ContentKey)
		if err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("%w: %s", notifications.ErrContentNotFound, class.ContentKey)
		}
		recorded, err := tx.HasDeliveries(ctx, incident.ID)
		if err != nil {
			return err
		}
		if recorded {
			return notifications.ErrAlreadyDispatched
		}
		recipients, err := tx.ListRecipients(ctx)
		if err != nil {
			return err
		}

		tokens := make([]string, 0, len(recipients))
		for _, recipient := range recipients {
			if recipient.Addressable() {
				tokens = append(tokens, recipient.DeviceToken)
			}
		}

		var results []push.Result
		if len(tokens) > 0 {
			msg := push.Message{
				Tokens:   tokens,
				Title:    content.Title,
				Body:     e.renderBody(content, incident, class, log),
				Priority: priorityFor(class.Level),
				Data: map[string]string{
					"accidentId": strconv.FormatInt(incident.ID, 10),
					"streamKey":  incident.StreamKey,
					"type":       string(incident.Type),
					"level":      class.Level.String(),
				},
			}
			results, err = e.gateway.SendMulticast(ctx, msg)
			if err != nil {
				return fmt.Errorf("%w: %w", notifications.ErrGatewayFailed, err)
			}
			dispatched = true
			if len(results) != len(tokens) {
				return fmt.Errorf("%w: sent %d tokens, got %d results", notifications.ErrGatewayResultMismatch, len(tokens), len(results))
			}
		}

		createdAt := e.clock.Now().UTC()
		records := make([]notifications.DeliveryRecord, 0, len(recipients))
		next := 0
		counts := notifications.Outcome{IncidentID: incident.ID, Recipients: len(recipients), CreatedAt: createdAt}
		for _, recipient := range recipients {
			record := notifications.DeliveryRecord{
				RecipientID: recipient.ID,
				IncidentID:  incident.ID,
				ContentKey:  content.Key,
				CreatedAt:   createdAt,
			}
			switch {
			case !recipient.Addressable():
				counts.Skipped++
			case results[next].Success:
				record.Sent = true
				counts.Sent++
				next++
			default:
				counts.Failed++
				next++
			}
			records = append(records, record)
		}
		counts.Records = records
		outcome = counts

		if len(records) == 0 {
			return nil
		}
		return tx.InsertDeliveries(ctx, records)
	})
	if err != nil {
		if dispatched {
			metrics.IncDispatchUnrecorded()
			log.Error("push dispatched but delivery records not committed",
				zap.Int("sent", outcome.Sent),
				zap.Int("failed", outcome.Failed),
				zap.Error(err),
			)
			return outcome, fmt.Errorf("%w: %w", notifications.ErrDispatchUnrecorded, err)
		}
		if claimed && !errors.Is(err, notifications.ErrAlreadyDispatched) {
			if releaseErr := e.claims.Release(context.WithoutCancel(ctx), claimKey); releaseErr != nil {
				log.Warn("release dispatch claim failed", zap.Error(releaseErr))
			}
		}
		return notifications.Outcome{IncidentID: incident.ID}, err
	}

	log.Info("incident fan-out recorded",
		zap.Int("recipients", outcome.Recipients),
		zap.Int("sent", outcome.Sent),
		zap.Int("failed", outcome.Failed),
		zap.Int("skipped", outcome.Skipped),
	)
	return outcome, nil
}

func (e *Engine) renderBody(content *notifications.Content, incident incidents.Incident, class incidents.Classification, log *zap.Logger) string {
	tpl, err := NewTemplate(content.Body)
	if err != nil {
		log.Warn("content body is not a valid template, sending raw", zap.String("content", content.Key), zap.Error(err))
		return content.Body
	}
	body, err := tpl.Render(templateDataFor(incident, class))
	if err != nil {
		log.Warn("render content body failed, sending raw", zap.String("content", content.Key), zap.Error(err))
		return content.Body
	}
	return body
}

func priorityFor(level incidents.Level) push.Priority {
	if level == incidents.LevelHigh {
		return push.PriorityHigh
	}
	return push.PriorityNormal
}

func fanoutResult(outcome notifications.Outcome, err error) string {
	switch {
	case err == nil:
		return outcome.Status()
	case errors.Is(err, notifications.ErrDispatchUnrecorded):
		return metrics.FanoutUnrecorded
	case errors.Is(err, notifications.ErrAlreadyDispatched):
		return metrics.FanoutDuplicate
	case errors.Is(err, notifications.ErrGatewayFailed):
		return metrics.FanoutGatewayError
	default:
		return metrics.ResultError
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
