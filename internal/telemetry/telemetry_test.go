package telemetry_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citysim/intersection-core/internal/intersection"
	"github.com/citysim/intersection-core/internal/telemetry"
)

// TestRecordWritesPoint exercises the recorder against a real InfluxDB
// instance, configured via TELEMETRY_TEST_URL / _TOKEN / _ORG / _BUCKET.
// It is skipped by default so the suite runs without external
// dependencies.
func TestRecordWritesPoint(t *testing.T) {
	url := os.Getenv("TELEMETRY_TEST_URL")
	if url == "" {
		t.Skip("TELEMETRY_TEST_URL not set; skipping InfluxDB-backed telemetry test")
	}

	rec := telemetry.NewRecorder(url,
		os.Getenv("TELEMETRY_TEST_TOKEN"),
		os.Getenv("TELEMETRY_TEST_ORG"),
		os.Getenv("TELEMETRY_TEST_BUCKET"),
	)
	defer rec.Close()

	err := rec.Record(context.Background(), intersection.Tick(1.0), telemetry.IntersectionTick{
		Intersection: "main-and-1st",
		Admitted:     2,
		Waiting:      1,
		Approaching:  0,
	})
	require.NoError(t, err)
}
