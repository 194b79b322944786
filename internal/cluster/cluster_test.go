package cluster_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citysim/intersection-core/internal/cluster"
)

// TestCampaignAndIsLeader exercises leader election against a real etcd
// cluster, configured via CLUSTER_TEST_ETCD_ENDPOINTS (comma-separated).
// It is skipped by default so the suite runs without external
// dependencies.
func TestCampaignAndIsLeader(t *testing.T) {
	endpoints := os.Getenv("CLUSTER_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("CLUSTER_TEST_ETCD_ENDPOINTS not set; skipping etcd-backed cluster test")
	}

	e, err := cluster.Join(strings.Split(endpoints, ","), "/citysim/tick-leader-test")
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Campaign(ctx, "replica-a"))

	leading, err := e.IsLeader(ctx)
	require.NoError(t, err)
	require.True(t, leading)

	require.NoError(t, e.Resign(ctx))
}
