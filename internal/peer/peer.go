// Package peer implements the HTTP client side of the peer wire protocol:
// one Client per remote node, gating every call through that peer's circuit
// breaker the way the teacher's cluster.Client wraps raw HTTP calls in a
// typed Go API. Unlike the teacher's client (built for human/CLI callers),
// this one is built for the replication manager and always carries a
// context for cancellation.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flapjack/flapjack/internal/breaker"
	"github.com/flapjack/flapjack/internal/errs"
	"github.com/flapjack/flapjack/internal/oplog"
)

// RequestTimeout bounds every outbound peer call.
const RequestTimeout = 5 * time.Second

// LocalOnlyHeader suppresses re-entrant analytics fan-out: a node receiving
// a request with this header never forwards it to its own peers.
const LocalOnlyHeader = "X-Flapjack-Local-Only"

// Wire DTOs — the exact shapes exchanged with a peer.

type ReplicateOpsRequest struct {
	TenantID string     `json:"tenant_id"`
	Ops      []oplog.Op `json:"ops"`
}

type ReplicateOpsResponse struct {
	TenantID  string `json:"tenant_id"`
	AckedSeq  uint64 `json:"acked_seq"`
}

type GetOpsResponse struct {
	TenantID   string     `json:"tenant_id"`
	Ops        []oplog.Op `json:"ops"`
	CurrentSeq uint64     `json:"current_seq"`
}

type ReplicationStatus struct {
	NodeID              string `json:"node_id"`
	ReplicationEnabled  bool   `json:"replication_enabled"`
	PeerCount           int    `json:"peer_count"`
}

// HealthBucket classifies a peer by recency of its last successful call.
type HealthBucket string

const (
	HealthHealthy        HealthBucket = "healthy"
	HealthStale          HealthBucket = "stale"
	HealthUnhealthy      HealthBucket = "unhealthy"
	HealthCircuitOpen    HealthBucket = "circuit_open"
	HealthNeverContacted HealthBucket = "never_contacted"
)

// PeerHealthStatus is the introspection DTO for GET /internal/peers.
type PeerHealthStatus struct {
	PeerID            string       `json:"peer_id"`
	Addr              string       `json:"addr"`
	LastSuccessSecsAgo *int64      `json:"last_success_secs_ago,omitempty"`
	Status            HealthBucket `json:"status"`
}

// Client talks to exactly one peer node over HTTP+JSON, admission-gated by
// a circuit breaker. It never decides *whether* to call a peer (that is
// the replication/analytics manager's job) — only *how*.
type Client struct {
	PeerID     string
	Addr       string
	Breaker    *breaker.Breaker
	httpClient *http.Client

	lastSuccessUnix int64
}

// New builds a Client for one peer, addr like "host:port".
func New(peerID, addr string) *Client {
	return &Client{
		PeerID:     peerID,
		Addr:       addr,
		Breaker:    breaker.New(breaker.DefaultFailureThreshold, breaker.DefaultRecoveryTimeout),
		httpClient: &http.Client{Timeout: RequestTimeout},
	}
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("http://%s", c.Addr)
}

// PeerIdentity returns this peer's node ID, satisfying analytics.PeerQuerier.
func (c *Client) PeerIdentity() string {
	return c.PeerID
}

// Allow reports whether the breaker currently admits a call to this peer.
func (c *Client) Allow() bool {
	return c.Breaker.Allow()
}

// LastSuccessUnix returns the unix timestamp of the last successful call,
// or 0 if this peer has never been contacted successfully.
func (c *Client) LastSuccessUnix() int64 {
	return c.lastSuccessUnix
}

// HealthStatus classifies this peer per the thresholds used by the
// /internal/peers introspection endpoint.
func (c *Client) HealthStatus(now time.Time) PeerHealthStatus {
	status := PeerHealthStatus{PeerID: c.PeerID, Addr: c.Addr}
	if !c.Allow() && c.Breaker.State() == breaker.Open {
		status.Status = HealthCircuitOpen
		return status
	}
	if c.lastSuccessUnix == 0 {
		status.Status = HealthNeverContacted
		return status
	}
	ago := now.Unix() - c.lastSuccessUnix
	status.LastSuccessSecsAgo = &ago
	switch {
	case ago < 60:
		status.Status = HealthHealthy
	case ago < 300:
		status.Status = HealthStale
	default:
		status.Status = HealthUnhealthy
	}
	return status
}

// ReplicateOps pushes a batch of ops for tenantID to this peer.
func (c *Client) ReplicateOps(ctx context.Context, tenantID string, ops []oplog.Op) (ReplicateOpsResponse, error) {
	if !c.Allow() {
		return ReplicateOpsResponse{}, errs.New("peer.ReplicateOps", errs.KindPeerUnavailable, nil)
	}
	var resp ReplicateOpsResponse
	err := c.doJSON(ctx, http.MethodPost, "/internal/replicate",
		ReplicateOpsRequest{TenantID: tenantID, Ops: ops}, &resp, false)
	c.record(err)
	if err != nil {
		return ReplicateOpsResponse{}, errs.New("peer.ReplicateOps", errs.KindPeerUnavailable, err)
	}
	return resp, nil
}

// GetOps pulls ops for tenantID since sinceSeq from this peer.
func (c *Client) GetOps(ctx context.Context, tenantID string, sinceSeq uint64) (GetOpsResponse, error) {
	if !c.Allow() {
		return GetOpsResponse{}, errs.New("peer.GetOps", errs.KindPeerUnavailable, nil)
	}
	path := fmt.Sprintf("/internal/ops?tenant_id=%s&since_seq=%d", tenantID, sinceSeq)
	var resp GetOpsResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, false)
	c.record(err)
	if err != nil {
		return GetOpsResponse{}, errs.New("peer.GetOps", errs.KindPeerUnavailable, err)
	}
	return resp, nil
}

// HealthCheck probes /internal/status without otherwise using the result.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Allow() {
		return errs.New("peer.HealthCheck", errs.KindPeerUnavailable, nil)
	}
	var resp ReplicationStatus
	err := c.doJSON(ctx, http.MethodGet, "/internal/status", nil, &resp, false)
	c.record(err)
	if err != nil {
		return errs.New("peer.HealthCheck", errs.KindPeerUnavailable, err)
	}
	return nil
}

// PushRollup posts a precomputed analytics rollup to this peer. rollup is
// any JSON-marshalable value (the analytics package's Rollup), marshaled
// here, so this package does not import the analytics package.
func (c *Client) PushRollup(ctx context.Context, rollup any) error {
	if !c.Allow() {
		return errs.New("peer.PushRollup", errs.KindPeerUnavailable, nil)
	}
	err := c.doJSON(ctx, http.MethodPost, "/internal/analytics-rollup", rollup, nil, false)
	c.record(err)
	if err != nil {
		return errs.New("peer.PushRollup", errs.KindPeerUnavailable, err)
	}
	return nil
}

// FetchLocalOnly issues a GET against an arbitrary local endpoint path on
// this peer (used by the analytics fan-out, which mirrors whatever path the
// client itself used) with the local-only header set, and returns the raw
// JSON body.
func (c *Client) FetchLocalOnly(ctx context.Context, path string) (json.RawMessage, error) {
	if !c.Allow() {
		return nil, errs.New("peer.FetchLocalOnly", errs.KindPeerUnavailable, nil)
	}
	var raw json.RawMessage
	err := c.doJSON(ctx, http.MethodGet, path, nil, &raw, true)
	c.record(err)
	if err != nil {
		return nil, errs.New("peer.FetchLocalOnly", errs.KindPeerUnavailable, err)
	}
	return raw, nil
}

func (c *Client) record(err error) {
	if err != nil {
		c.Breaker.RecordFailure()
		return
	}
	c.Breaker.RecordSuccess()
	c.lastSuccessUnix = time.Now().Unix()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any, localOnly bool) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if localOnly {
		req.Header.Set(LocalOnlyHeader, "true")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
