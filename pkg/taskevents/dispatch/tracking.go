package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/archive"
	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// TrackingRecord is a live guaranteed-delivery record: an emission whose
// listeners failed and which is eligible for redelivery.
type TrackingRecord struct {
	// EmissionID identifies the original emission.
	EmissionID string

	// EventType is the emitted event type.
	EventType string

	// Data is the original emission data, replayed verbatim on retry.
	Data any

	// Failures lists listener error messages from the most recent attempt.
	Failures []string

	// Timestamp is when the delivery was first tracked.
	Timestamp time.Time

	// Retries is the number of redelivery attempts made so far.
	Retries int
}

// track records a failed guaranteed emission for later redelivery.
func (d *Dispatcher) track(em *Emission, data any) {
	rec := &TrackingRecord{
		EmissionID: em.EmissionID,
		EventType:  em.EventType,
		Data:       data,
		Failures:   failureMessages(em),
		Timestamp:  time.Now(),
	}

	d.trackingMu.Lock()
	d.tracking[rec.EmissionID] = rec
	d.trackingMu.Unlock()

	observability.LogDeliveryTracked(d.cfg.Logger, rec.EmissionID, rec.EventType, len(rec.Failures))
}

// FailedDeliveries returns a snapshot of live tracking records, oldest first.
func (d *Dispatcher) FailedDeliveries() []TrackingRecord {
	d.trackingMu.Lock()
	defer d.trackingMu.Unlock()

	out := make([]TrackingRecord, 0, len(d.tracking))
	for _, rec := range d.tracking {
		cp := *rec
		cp.Failures = append([]string(nil), rec.Failures...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// RetryFailedDeliveries re-emits every tracked delivery once. Records whose
// re-emission succeeds are removed; the rest have their retry count bumped.
// A record that reaches the configured retry limit is dropped, and archived
// when an archive is configured. Returns the number of recovered deliveries.
func (d *Dispatcher) RetryFailedDeliveries(ctx context.Context) int {
	d.trackingMu.Lock()
	pending := make([]*TrackingRecord, 0, len(d.tracking))
	for _, rec := range d.tracking {
		pending = append(pending, rec)
	}
	d.trackingMu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	recovered := 0
	for _, rec := range pending {
		// A failed retry must not spawn a second tracking record for the
		// same delivery.
		em := d.Emit(ctx, rec.EventType, rec.Data, func(o *EmitOptions) { o.noTrack = true })

		d.trackingMu.Lock()
		live, ok := d.tracking[rec.EmissionID]
		if !ok {
			// Cleared or already resolved concurrently.
			d.trackingMu.Unlock()
			continue
		}

		if em.Success {
			delete(d.tracking, rec.EmissionID)
			d.trackingMu.Unlock()
			recovered++
			continue
		}

		live.Retries++
		live.Failures = failureMessages(em)
		exhausted := live.Retries >= d.cfg.DeliveryMaxRetries
		if exhausted {
			delete(d.tracking, rec.EmissionID)
		}
		snapshot := *live
		d.trackingMu.Unlock()

		if exhausted {
			d.dropDelivery(ctx, &snapshot)
		}
	}
	return recovered
}

// dropDelivery handles a record that exhausted its redelivery budget.
func (d *Dispatcher) dropDelivery(ctx context.Context, rec *TrackingRecord) {
	observability.LogDeliveryDropped(d.cfg.Logger, rec.EmissionID, rec.EventType, rec.Retries)

	if d.cfg.Archive == nil {
		return
	}

	payload, err := json.Marshal(rec.Data)
	if err != nil {
		payload = nil
	}
	saveErr := d.cfg.Archive.Save(ctx, &archive.Record{
		EmissionID:    rec.EmissionID,
		EventType:     rec.EventType,
		Payload:       payload,
		Failures:      rec.Failures,
		FirstFailedAt: rec.Timestamp,
		Retries:       rec.Retries,
	})
	if saveErr != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Error("archive failed delivery",
			"emission_id", rec.EmissionID, "error", saveErr.Error())
	}
}

func failureMessages(em *Emission) []string {
	msgs := make([]string, 0, len(em.Failures))
	for _, f := range em.Failures {
		msgs = append(msgs, f.Err.Error())
	}
	return msgs
}
