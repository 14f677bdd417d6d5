package serialmux

import (
	"context"
	"fmt"
	"log"

	"github.com/banshee-data/beacon.locator/internal/locate"
)

// EventStore persists what the stations report. *db.DB satisfies it.
type EventStore interface {
	RecordObservation(ctx context.Context, o locate.Observation) error
	RecordHeartbeat(ctx context.Context, snifferID string, ts float64) error
}

// HandleFrame records one sighting.
func HandleFrame(ctx context.Context, store EventStore, payload string) error {
	f, err := ParseFrame(payload)
	if err != nil {
		return err
	}
	return store.RecordObservation(ctx, f.Observation())
}

// HandleHeartbeat records one liveness report.
func HandleHeartbeat(ctx context.Context, store EventStore, payload string) error {
	h, err := ParseHeartbeat(payload)
	if err != nil {
		return err
	}
	return store.RecordHeartbeat(ctx, string(h.SnifferID), h.Timestamp)
}

// HandleEvent classifies a line and records it. Unknown lines are logged
// and ignored; station boot banners and debug output land here.
func HandleEvent(ctx context.Context, store EventStore, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeFrame:
		if err := HandleFrame(ctx, store, payload); err != nil {
			return fmt.Errorf("failed to handle frame: %w", err)
		}
	case EventTypeHeartbeat:
		if err := HandleHeartbeat(ctx, store, payload); err != nil {
			return fmt.Errorf("failed to handle heartbeat: %w", err)
		}
	default:
		log.Printf("unknown event type: %s", payload)
	}
	return nil
}

// Ingest subscribes to mux and hands every line to HandleEvent until ctx is
// done or the mux closes the subscription. Handler errors are logged.
func Ingest(ctx context.Context, mux Station, store EventStore) {
	id, c := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if err := HandleEvent(ctx, store, payload); err != nil {
				log.Printf("error handling event: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
