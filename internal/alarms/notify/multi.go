package notify

import (
	"context"

	alarmapp "fleetguardian/internal/alarms/application"
)

// MultiNotifier dispatches alert events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alarmapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...alarmapp.AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
