package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/observability/metrics"
	"safety-cloud/internal/paging"
)

// LedgerStore persists read receipts and serves recipient history.
type LedgerStore interface {
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	ListByRecipient(ctx context.Context, recipientID int64, offset, limit int) ([]notifications.Notification, error)
	CountByRecipient(ctx context.Context, recipientID int64) (int64, error)
}

// RecipientStore updates recipient push addresses.
type RecipientStore interface {
	UpdateDeviceToken(ctx context.Context, recipientID int64, token string) (bool, error)
}

// Page is one page of a recipient's notifications.
type Page struct {
	PageNum       int                          `json:"pageNum"`
	PageSize      int                          `json:"pageSize"`
	HasNext       bool                         `json:"hasNext"`
	Notifications []notifications.Notification `json:"notifications"`
}

var errNilLedger = errors.New("ledger: nil ledger")

// Ledger records read receipts and exposes recipient notification history.
type Ledger struct {
	store      LedgerStore
	recipients RecipientStore
	clock      Clock
	logger     *zap.Logger
}

// LedgerOption customizes the ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock assigns a clock.
func WithLedgerClock(clock Clock) LedgerOption {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLedgerLogger assigns a logger.
func WithLedgerLogger(logger *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger constructs a ledger.
func NewLedger(store LedgerStore, recipients RecipientStore, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: nil store")
	}
	if recipients == nil {
		return nil, errors.New("ledger: nil recipient store")
	}
	ledger := &Ledger{store: store, recipients: recipients, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger, nil
}

// MarkAllRead stamps every unread record of the recipient and returns how many
// rows changed. Already-read rows keep their original read instant.
func (l *Ledger) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	if l == nil {
		return 0, errNilLedger
	}
	if recipientID <= 0 {
		return 0, notifications.ErrRecipientNotFound
	}
	count, err := l.store.MarkAllRead(ctx, recipientID, l.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.AddReadReceipts(count)
	l.logger.Debug("notifications marked read", zap.Int64("user_id", recipientID), zap.Int64("count", count))
	return count, nil
}

// ListForRecipient returns notifications newest first.
func (l *Ledger) ListForRecipient(ctx context.Context, recipientID int64, page paging.Request) (*Page, error) {
	if l == nil {
		return nil, errNilLedger
	}
	if recipientID <= 0 {
		return nil, notifications.ErrRecipientNotFound
	}
	if page.Num < 1 || page.Size < 1 {
		return nil, paging.ErrInvalid
	}
	list, err := l.store.ListByRecipient(ctx, recipientID, page.Offset(), page.Limit())
	if err != nil {
		return nil, err
	}
	total, err := l.store.CountByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []notifications.Notification{}
	}
	return &Page{
		PageNum:       page.Num,
		PageSize:      page.Size,
		HasNext:       page.HasNext(total),
		Notifications: list,
	}, nil
}

// RegisterDeviceToken stores the push address of a recipient.
func (l *Ledger) RegisterDeviceToken(ctx context.Context, recipientID int64, token string) error {
	if l == nil {
		return errNilLedger
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return notifications.ErrInvalidDeviceToken
	}
	if recipientID <= 0 {
		return notifications.ErrRecipientNotFound
	}
	ok, err := l.recipients.UpdateDeviceToken(ctx, recipientID, token)
	if err != nil {
		return err
	}
	if !ok {
		return notifications.ErrRecipientNotFound
	}
	return nil
}
