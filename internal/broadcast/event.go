package broadcast

import alerts "routewatch/internal/alerts/domain"

// Kind labels a broadcast event.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindCreated  Kind = "created"
	KindUpdated  Kind = "updated"
	KindResolved Kind = "resolved"
)

// Event is an ephemeral lifecycle delta. Alerts are copies, never shared with the store.
type Event struct {
	Kind     Kind           `json:"kind"`
	Sequence uint64         `json:"sequence"`
	Alerts   []alerts.Alert `json:"alerts"`
}

// Apply folds an event into a client-side view keyed by alert id.
// A snapshot replaces the view; resolved alerts leave it.
func Apply(view map[string]alerts.Alert, event Event) map[string]alerts.Alert {
	if event.Kind == KindSnapshot || view == nil {
		view = make(map[string]alerts.Alert, len(event.Alerts))
	}
	for _, alert := range event.Alerts {
		if alert.Status.Open() {
			view[alert.ID] = alert
			continue
		}
		delete(view, alert.ID)
	}
	return view
}
