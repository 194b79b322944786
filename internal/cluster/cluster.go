// Package cluster elects the single simhost replica that owns ticking
// the clock forward, using etcd's leader-election primitive. Every
// replica runs the same binary; only the campaign winner calls Step.
// Losing the lease (network partition, process stall) relinquishes
// leadership automatically so a standby can take over.
package cluster

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const leaseTTLSeconds = 10

// Election wraps one etcd-backed campaign for tick-stepping leadership.
type Election struct {
	client       *clientv3.Client
	session      *concurrency.Session
	election     *concurrency.Election
	ownClient    bool
	campaignedAs string
}

// Join connects to an etcd cluster and prepares to campaign under
// electionKey. Call Campaign to actually contest leadership.
func Join(endpoints []string, electionKey string) (*Election, error) {
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("cluster: connect to etcd: %w", err)
	}

	e, err := newElection(client, electionKey)
	if err != nil {
		client.Close()
		return nil, err
	}
	e.ownClient = true
	return e, nil
}

// JoinWithClient is like Join but reuses an already-open etcd client,
// e.g. one shared with other cluster-coordination concerns in the same
// process.
func JoinWithClient(client *clientv3.Client, electionKey string) (*Election, error) {
	return newElection(client, electionKey)
}

func newElection(client *clientv3.Client, electionKey string) (*Election, error) {
	session, err := concurrency.NewSession(client, concurrency.WithTTL(leaseTTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("cluster: create session: %w", err)
	}
	return &Election{
		client:   client,
		session:  session,
		election: concurrency.NewElection(session, electionKey),
	}, nil
}

// Campaign blocks until this replica becomes the leader, or ctx is
// cancelled. It returns nil once leadership is held.
func (e *Election) Campaign(ctx context.Context, replicaID string) error {
	if err := e.election.Campaign(ctx, replicaID); err != nil {
		return fmt.Errorf("cluster: campaign: %w", err)
	}
	e.campaignedAs = replicaID
	return nil
}

// IsLeader reports whether this replica currently holds leadership,
// verified against etcd rather than trusting local state.
func (e *Election) IsLeader(ctx context.Context) (bool, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		if err == concurrency.ErrElectionNoLeader {
			return false, nil
		}
		return false, fmt.Errorf("cluster: query leader: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	return string(resp.Kvs[0].Value) == e.campaignedAs, nil
}

// Resign voluntarily gives up leadership, e.g. during a graceful shutdown
// so a standby replica can take over without waiting out the lease TTL.
func (e *Election) Resign(ctx context.Context) error {
	if err := e.election.Resign(ctx); err != nil {
		return fmt.Errorf("cluster: resign: %w", err)
	}
	return nil
}

// Close releases the session and, if this Election owns its etcd client,
// closes that too.
func (e *Election) Close() error {
	if err := e.session.Close(); err != nil {
		return fmt.Errorf("cluster: close session: %w", err)
	}
	if e.ownClient {
		return e.client.Close()
	}
	return nil
}
