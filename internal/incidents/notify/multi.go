package notify

import (
	"context"

	incidentapp "safety-cloud/internal/incidents/application"
)

// MultiNotifier dispatches incident events to multiple notifiers.
type MultiNotifier struct {
	notifiers []incidentapp.IncidentNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are skipped.
func NewMultiNotifier(notifiers ...incidentapp.IncidentNotifier) *MultiNotifier {
	kept := make([]incidentapp.IncidentNotifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			kept = append(kept, notifier)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event incidentapp.IncidentEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event)
	}
}
