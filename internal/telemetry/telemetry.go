// Package telemetry writes per-tick intersection metrics to InfluxDB:
// how many requests are admitted, waiting, and approaching at each
// intersection, plus a gauge for ticks spent in the traffic-signal
// stale-accepted guard. These are diagnostic only — nothing in the
// simulation core reads them back.
package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/citysim/intersection-core/internal/intersection"
)

// Recorder writes tick metrics to one InfluxDB bucket.
type Recorder struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewRecorder connects to InfluxDB at url using token, writing into
// (org, bucket).
func NewRecorder(url, token, org, bucket string) *Recorder {
	client := influxdb2.NewClient(url, token)
	return &Recorder{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
	}
}

// Close flushes any buffered points and releases the client.
func (r *Recorder) Close() {
	r.client.Close()
}

// IntersectionTick is one intersection's admission counts for a single
// tick, as observed after Step returns.
type IntersectionTick struct {
	Intersection intersection.IntersectionID
	Admitted     int
	Waiting      int
	Approaching  int
	// StaleGuardActive is true for traffic-signal intersections whose
	// admissions were frozen this tick because a previously accepted
	// entry had not yet exited after its turn left the active cycle.
	StaleGuardActive bool
}

// Record writes one intersection's tick counters as a single InfluxDB
// point.
func (r *Recorder) Record(ctx context.Context, tick intersection.Tick, it IntersectionTick) error {
	staleGuard := 0
	if it.StaleGuardActive {
		staleGuard = 1
	}

	point := influxdb2.NewPoint(
		"intersection_tick",
		map[string]string{"intersection": string(it.Intersection)},
		map[string]interface{}{
			"tick":               float64(tick),
			"admitted_count":      it.Admitted,
			"waiting_count":       it.Waiting,
			"approaching_count":   it.Approaching,
			"stale_accepted_ticks": staleGuard,
		},
		time.Now(),
	)

	if err := r.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("telemetry: write point for %s: %w", it.Intersection, err)
	}
	return nil
}

// RecordAll writes one point per intersection for a tick.
func (r *Recorder) RecordAll(ctx context.Context, tick intersection.Tick, ticks []IntersectionTick) error {
	for _, it := range ticks {
		if err := r.Record(ctx, tick, it); err != nil {
			return err
		}
	}
	return nil
}
