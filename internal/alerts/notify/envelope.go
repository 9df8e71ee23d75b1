package notify

import (
	"encoding/json"
	"time"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/broadcast"
)

// Message is the wire form of one alert change on the message buses.
type Message struct {
	Kind        broadcast.Kind `json:"kind"`
	Sequence    uint64         `json:"sequence"`
	Alert       alerts.Alert   `json:"alert"`
	PublishedAt time.Time      `json:"published_at"`
}

// Resync is the wire form of a snapshot; consumers replace their open-alert set with Alerts.
type Resync struct {
	Kind        broadcast.Kind `json:"kind"`
	Sequence    uint64         `json:"sequence"`
	Alerts      []alerts.Alert `json:"alerts"`
	PublishedAt time.Time      `json:"published_at"`
}

// encodeMessages yields one message per alert, or a single Resync for a snapshot.
func encodeMessages(event broadcast.Event, at time.Time) ([][]byte, error) {
	if event.Kind == broadcast.KindSnapshot {
		open := event.Alerts
		if open == nil {
			open = []alerts.Alert{}
		}
		data, err := json.Marshal(Resync{
			Kind:        event.Kind,
			Sequence:    event.Sequence,
			Alerts:      open,
			PublishedAt: at.UTC(),
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}
	out := make([][]byte, 0, len(event.Alerts))
	for _, alert := range event.Alerts {
		data, err := json.Marshal(Message{
			Kind:        event.Kind,
			Sequence:    event.Sequence,
			Alert:       alert,
			PublishedAt: at.UTC(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
