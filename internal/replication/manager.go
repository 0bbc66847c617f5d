// Package replication implements the Replication Manager (C3): fan-out of
// freshly appended ops to peers, catch-up pulls, and the periodic
// anti-entropy loop, plus handing each remote op batch to the Index Manager,
// which resolves LWW conflicts as it applies them. The fan-out pattern is grounded on the teacher's
// cluster.Replicator.ReplicateWrite, generalized from godkv's N/W/R quorum
// write to this system's "replicate best-effort to every admitting peer"
// model — this core does full replication to every peer rather than a
// hash-sharded subset, so there is no quorum count here, only "all peers
// whose breaker currently admits".
package replication

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flapjack/flapjack/internal/oplog"
	"github.com/flapjack/flapjack/internal/peer"
	"github.com/rs/zerolog"
)

// Applier is the subset of the Index Manager the replication manager needs:
// applying a batch of remote ops under LWW. Tenant discovery goes through
// the oplog manager's ListTenants instead.
type Applier interface {
	ApplyOps(tenantID string, ops []oplog.Op) error
}

// Manager fans out local writes, pulls missed ops from peers, and runs the
// anti-entropy loop. It holds no tenant data itself — that lives behind
// Applier and the oplog manager.
type Manager struct {
	selfNodeID string
	dataDir    string
	oplogs     *oplog.Manager
	applier    Applier
	peers      []*peer.Client
	log        zerolog.Logger
}

// New builds a Manager. peers may be empty (standalone mode); replication
// becomes a no-op but the manager itself remains usable so the protocol
// endpoints keep working.
func New(selfNodeID, dataDir string, oplogs *oplog.Manager, applier Applier, peers []*peer.Client, log zerolog.Logger) *Manager {
	return &Manager{
		selfNodeID: selfNodeID,
		dataDir:    dataDir,
		oplogs:     oplogs,
		applier:    applier,
		peers:      peers,
		log:        log.With().Str("component", "replication").Logger(),
	}
}

// Standalone reports whether this manager has no peers to talk to.
func (m *Manager) Standalone() bool {
	return len(m.peers) == 0
}

// Peers returns the configured peer clients, for status/health reporting.
func (m *Manager) Peers() []*peer.Client {
	return m.peers
}

// FanOutWrite pushes newly appended ops for tenantID to every peer whose
// breaker currently admits requests, in parallel. Peer failures are logged
// and absorbed, never returned. It returns only after every admitted peer
// call has finished, each bounded by the peer client's request timeout.
func (m *Manager) FanOutWrite(ctx context.Context, tenantID string, ops []oplog.Op) {
	if len(ops) == 0 {
		return
	}
	var g errgroup.Group
	for _, p := range m.peers {
		p := p
		if !p.Allow() {
			continue
		}
		g.Go(func() error {
			_, err := p.ReplicateOps(ctx, tenantID, ops)
			if err != nil {
				m.log.Debug().Err(err).Str("peer", p.PeerID).Str("tenant", tenantID).Msg("replicate_ops failed, absorbed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// pickCatchUpPeer selects the peer with the highest last-success time whose
// breaker is not Open.
func (m *Manager) pickCatchUpPeer() *peer.Client {
	var best *peer.Client
	for _, p := range m.peers {
		if !p.Allow() {
			continue
		}
		if best == nil || p.LastSuccessUnix() > best.LastSuccessUnix() {
			best = p
		}
	}
	return best
}

// CatchUpFromPeer pulls ops for tenantID since localSeq from the best
// available peer and returns them for the caller to apply. A nil peer
// (no admitting peer available) yields an empty, non-error result.
func (m *Manager) CatchUpFromPeer(ctx context.Context, tenantID string, localSeq uint64) ([]oplog.Op, error) {
	p := m.pickCatchUpPeer()
	if p == nil {
		return nil, nil
	}
	const batchSize = 500
	resp, err := p.GetOps(ctx, tenantID, localSeq)
	if err != nil {
		return nil, nil // peer failures are absorbed, never surfaced
	}
	ops := resp.Ops
	if len(ops) > batchSize {
		ops = ops[:batchSize]
	}
	return ops, nil
}

// ApplyIncoming hands a batch of ops received from a peer, unfiltered, to
// the Applier, which resolves LWW conflicts: per key (tenant, doc_id) or
// (tenant, settings_key), an incoming op wins iff its timestamp strictly
// exceeds the current local op on that key, with origin_node_id lexical
// tiebreak. The oplog's own seq is only advanced when the incoming seq
// exceeds current_seq; the Applier/oplog combination enforces that via its
// own storage, so this function does neither LWW nor seq bookkeeping.
func (m *Manager) ApplyIncoming(tenantID string, ops []oplog.Op) error {
	if len(ops) == 0 {
		return nil
	}
	return m.applier.ApplyOps(tenantID, ops)
}

// RunStartupCatchUp waits 3s after process start (the caller is expected to
// invoke this from a goroutine right after boot) then performs one
// catch-up pass over every local tenant.
func (m *Manager) RunStartupCatchUp(ctx context.Context) {
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return
	}
	m.catchUpAllTenants(ctx, "startup")
}

// RunPeriodicSync runs the anti-entropy loop: every intervalSecs, and never
// bursting missed ticks (a tick that arrives late because the previous
// catch-up took longer than the interval is simply skipped, not queued).
func (m *Manager) RunPeriodicSync(ctx context.Context, intervalSecs int) {
	if intervalSecs <= 0 {
		intervalSecs = 60
	}
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.catchUpAllTenants(ctx, "periodic")
			// Drain any tick that queued up while this pass was running, so
			// a slow pass cannot cause an immediately-following catch-up
			// once it returns.
			drained := false
			for !drained {
				select {
				case <-ticker.C:
				default:
					drained = true
				}
			}
		}
	}
}

// catchUpAllTenants is the shared core behind both startup and periodic
// catch-up: list the tenants this node already knows about by walking the
// oplog's own key prefixes (there is no tenant directory on disk — the
// index is memory-only and the oplog is a single Badger database), read
// each tenant's local seq, pull and apply any missing ops.
func (m *Manager) catchUpAllTenants(ctx context.Context, logPrefix string) {
	if m.Standalone() {
		return
	}
	tenants, err := m.oplogs.ListTenants(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("phase", logPrefix).Msg("could not list tenants")
		return
	}
	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			return
		default:
		}
		localSeq, err := m.oplogs.Tenant(tenantID).CurrentSeq()
		if err != nil {
			m.log.Warn().Err(err).Str("tenant", tenantID).Msg("could not read local seq")
			continue
		}
		ops, err := m.CatchUpFromPeer(ctx, tenantID, localSeq)
		if err != nil || len(ops) == 0 {
			m.log.Debug().Str("phase", logPrefix).Str("tenant", tenantID).Msg("up to date or peer unreachable")
			continue
		}
		if err := m.ApplyIncoming(tenantID, ops); err != nil {
			m.log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to apply caught-up ops")
			continue
		}
		m.log.Info().Str("phase", logPrefix).Str("tenant", tenantID).
			Uint64("applied_through_seq", ops[len(ops)-1].Seq).Msg("catch-up applied ops")
	}
}
