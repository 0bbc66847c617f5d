// Package api wires the Gin HTTP router: the public per-tenant document and
// search surface, and the internal peer wire protocol this node's
// replication and analytics layers speak to every other node.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/flapjack/flapjack/internal/analytics"
	"github.com/flapjack/flapjack/internal/errs"
	"github.com/flapjack/flapjack/internal/fusion"
	"github.com/flapjack/flapjack/internal/index"
	"github.com/flapjack/flapjack/internal/oplog"
	"github.com/flapjack/flapjack/internal/peer"
	"github.com/flapjack/flapjack/internal/replication"
)

// Handler holds every dependency a request might need. It is built once at
// server bootstrap and handed to Register — never a package-level
// singleton, so every dependency (including the analytics Coordinator) is
// an explicit, swappable handle.
type Handler struct {
	indexMgr    *index.Manager
	oplogs      *oplog.Manager
	repl        *replication.Manager
	cluster     *analytics.Coordinator // nil in standalone mode
	rollupCache *analytics.RollupCache
	peers       []*peer.Client
	selfNodeID  string
	log         zerolog.Logger
	validate    *validator.Validate
}

// NewHandler builds a Handler. cluster may be nil (standalone node).
func NewHandler(
	indexMgr *index.Manager,
	oplogs *oplog.Manager,
	repl *replication.Manager,
	cluster *analytics.Coordinator,
	rollupCache *analytics.RollupCache,
	peers []*peer.Client,
	selfNodeID string,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		indexMgr:    indexMgr,
		oplogs:      oplogs,
		repl:        repl,
		cluster:     cluster,
		rollupCache: rollupCache,
		peers:       peers,
		selfNodeID:  selfNodeID,
		log:         log.With().Str("component", "api").Logger(),
		validate:    validator.New(),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	indexes := r.Group("/indexes/:index")
	indexes.POST("/documents", h.AddDocument)
	indexes.DELETE("/documents/:id", h.DeleteDocument)
	indexes.GET("/documents/:id", h.GetDocument)
	indexes.POST("/search", h.Search)
	indexes.POST("/vector-search", h.VectorSearch)
	indexes.GET("/settings", h.GetSettings)
	indexes.PUT("/settings", h.UpdateSettings)
	indexes.DELETE("", h.ClearTenant)
	indexes.GET("/analytics/*endpoint", h.AnalyticsQuery)

	internal := r.Group("/internal")
	internal.POST("/replicate", h.InternalReplicate)
	internal.GET("/ops", h.InternalGetOps)
	internal.GET("/status", h.InternalStatus)
	internal.GET("/peers", h.InternalPeers)
	internal.POST("/analytics-rollup", h.InternalAnalyticsRollup)
	internal.GET("/rollup-cache", h.InternalRollupCache)
}

func writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	c.JSON(kind.HTTPStatus(), gin.H{"error": err.Error(), "kind": kind.String()})
}

// ─── Public document/search handlers ──────────────────────────────────────

type addDocumentRequest struct {
	ID   string          `json:"id" binding:"required"`
	Body json.RawMessage `json:"body" binding:"required"`
}

// AddDocument handles POST /indexes/:index/documents. It writes locally
// (WAL-first through the Index Manager) then fans the resulting op out to
// every peer — the write is already durable locally before fan-out starts,
// so a slow or unreachable peer never blocks the caller's response beyond
// the fan-out's own bounded timeout.
func (h *Handler) AddDocument(c *gin.Context) {
	tenantID := c.Param("index")
	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := h.indexMgr.WriteDocument(c.Request.Context(), tenantID, req.ID, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	h.repl.FanOutWrite(c.Request.Context(), tenantID, []oplog.Op{op})

	c.JSON(http.StatusOK, gin.H{"id": req.ID, "seq": op.Seq})
}

// DeleteDocument handles DELETE /indexes/:index/documents/:id.
func (h *Handler) DeleteDocument(c *gin.Context) {
	tenantID := c.Param("index")
	docID := c.Param("id")

	op, err := h.indexMgr.DeleteDocument(c.Request.Context(), tenantID, docID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.repl.FanOutWrite(c.Request.Context(), tenantID, []oplog.Op{op})

	c.JSON(http.StatusOK, gin.H{"id": docID, "deleted": true})
}

// GetDocument handles GET /indexes/:index/documents/:id.
func (h *Handler) GetDocument(c *gin.Context) {
	tenantID := c.Param("index")
	docID := c.Param("id")

	tenant, err := h.indexMgr.Tenant(tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	body, ok := tenant.Document(docID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

type searchRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`

	// Hybrid retrieval: set Embedder+Vector to additionally run a vector
	// search and fuse it with the lexical results via reciprocal rank
	// fusion. SemanticRatio in [0,1] weights vector vs lexical; 0 (the
	// default) is lexical-only fusion input, i.e. plain lexical search.
	Embedder      string    `json:"embedder"`
	Vector        []float32 `json:"vector"`
	SemanticRatio float64   `json:"semantic_ratio"`
}

type fusedHit struct {
	DocID              string   `json:"doc_id"`
	FusedScore         float64  `json:"fused_score"`
	SemanticSimilarity *float32 `json:"semantic_similarity,omitempty"`
}

// Search handles POST /indexes/:index/search. With no vector in the
// request it is a plain local bleve query. With a vector present it also
// runs a brute-force vector search and fuses both ranked lists with
// reciprocal rank fusion before responding. Search fan-out across the
// cluster is not part of this core's contract — each node answers from its
// own replicated copy of the index; only analytics queries fan out
// cluster-wide.
func (h *Handler) Search(c *gin.Context) {
	tenantID := c.Param("index")
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	tenant, err := h.indexMgr.Tenant(tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	lexical, err := tenant.Search(req.Query, req.Limit+req.Offset, 0)
	if err != nil {
		writeError(c, err)
		return
	}

	if len(req.Vector) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"hits":       lexical.Hits,
			"total_hits": lexical.TotalHits,
		})
		return
	}

	vectorMatches, err := tenant.VectorSearch(req.Embedder, req.Vector, req.Limit+req.Offset)
	if err != nil {
		writeError(c, err)
		return
	}

	lexicalIDs := make([]string, len(lexical.Hits))
	for i, hit := range lexical.Hits {
		lexicalIDs[i] = hit.DocID
	}
	vectorHits := make([]fusion.VectorHit, len(vectorMatches))
	for i, m := range vectorMatches {
		vectorHits[i] = fusion.VectorHit{DocID: m.DocID, Distance: m.Distance}
	}

	fused := fusion.RRFFuse(lexicalIDs, vectorHits, req.SemanticRatio, fusion.DefaultK)
	if req.Offset < len(fused) {
		fused = fused[req.Offset:]
	} else {
		fused = nil
	}
	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}

	hits := make([]fusedHit, len(fused))
	for i, r := range fused {
		hits[i] = fusedHit{DocID: r.DocID, FusedScore: r.FusedScore, SemanticSimilarity: r.SemanticSimilarity}
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits, "total_hits": uint64(len(hits))})
}

type vectorSearchRequest struct {
	Embedder string    `json:"embedder" binding:"required"`
	Vector   []float32 `json:"vector" binding:"required"`
	TopK     int       `json:"top_k"`
}

// VectorSearch handles POST /indexes/:index/vector-search. The caller
// supplies the already-computed query vector; turning raw query text into
// a vector via the embedder store belongs to a client-side or gateway
// concern, not this core.
func (h *Handler) VectorSearch(c *gin.Context) {
	tenantID := c.Param("index")
	var req vectorSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TopK <= 0 {
		req.TopK = 20
	}

	tenant, err := h.indexMgr.Tenant(tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	matches, err := tenant.VectorSearch(req.Embedder, req.Vector, req.TopK)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// GetSettings handles GET /indexes/:index/settings.
func (h *Handler) GetSettings(c *gin.Context) {
	tenantID := c.Param("index")
	tenant, err := h.indexMgr.Tenant(tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant.Settings())
}

// UpdateSettings handles PUT /indexes/:index/settings.
func (h *Handler) UpdateSettings(c *gin.Context) {
	tenantID := c.Param("index")
	var settings index.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := h.indexMgr.UpdateSettings(c.Request.Context(), tenantID, settings)
	if err != nil {
		writeError(c, err)
		return
	}
	h.repl.FanOutWrite(c.Request.Context(), tenantID, []oplog.Op{op})

	c.JSON(http.StatusOK, gin.H{"updated": true, "seq": op.Seq})
}

// ClearTenant handles DELETE /indexes/:index.
func (h *Handler) ClearTenant(c *gin.Context) {
	tenantID := c.Param("index")
	op, err := h.indexMgr.ClearTenant(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.repl.FanOutWrite(c.Request.Context(), tenantID, []oplog.Op{op})
	c.JSON(http.StatusOK, gin.H{"cleared": tenantID})
}

// AnalyticsQuery handles GET /indexes/:index/analytics/*endpoint, e.g.
// "/indexes/products/analytics/searches/count". The local answer comes
// from this node's own cached rollup; with peers configured and the
// request not itself carrying the local-only header, it fans out through
// the cluster coordinator and merges every peer's answer by the strategy
// StrategyForEndpoint binds to this path. A standalone node, or a request
// that already carries the local-only header, answers from its own cache
// only.
func (h *Handler) AnalyticsQuery(c *gin.Context) {
	tenantID := c.Param("index")
	endpoint := strings.TrimPrefix(c.Param("endpoint"), "/")

	var local json.RawMessage
	if rollup, ok := h.rollupCache.Get(h.selfNodeID, tenantID); ok {
		if body, ok := rollup.Results[endpoint]; ok {
			local = body
		}
	}
	if local == nil {
		local = json.RawMessage(`{}`)
	}

	localOnly := c.GetHeader(peer.LocalOnlyHeader) == "true"
	if h.cluster == nil || localOnly {
		c.JSON(http.StatusOK, gin.H{"result": local, "cluster": gin.H{"nodes_total": 1, "nodes_responding": 1, "partial": false}})
		return
	}

	limit := 0
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		limit = l
	}
	merged, meta := h.cluster.FanOutAndMerge(c.Request.Context(), endpoint, local, limit)
	c.JSON(http.StatusOK, gin.H{"result": merged, "cluster": meta})
}

// ─── Internal peer protocol handlers ──────────────────────────────────────

// InternalReplicate handles POST /internal/replicate: a peer pushing a
// freshly fanned-out batch of ops for a tenant.
func (h *Handler) InternalReplicate(c *gin.Context) {
	var req peer.ReplicateOpsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repl.ApplyIncoming(req.TenantID, req.Ops); err != nil {
		writeError(c, err)
		return
	}

	var ackedSeq uint64
	if seq, err := h.oplogs.Tenant(req.TenantID).CurrentSeq(); err == nil {
		ackedSeq = seq
	}
	c.JSON(http.StatusOK, peer.ReplicateOpsResponse{TenantID: req.TenantID, AckedSeq: ackedSeq})
}

// InternalGetOps handles GET /internal/ops?tenant_id=...&since_seq=....
// Used by a peer catching up to pull everything it is missing.
func (h *Handler) InternalGetOps(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}
	sinceSeq, err := strconv.ParseUint(c.DefaultQuery("since_seq", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since_seq must be a non-negative integer"})
		return
	}

	ops, err := h.oplogs.Tenant(tenantID).ReadSince(sinceSeq, catchUpBatchSize)
	if err != nil {
		writeError(c, err)
		return
	}
	current, err := h.oplogs.Tenant(tenantID).CurrentSeq()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, peer.GetOpsResponse{TenantID: tenantID, Ops: ops, CurrentSeq: current})
}

// catchUpBatchSize caps how many ops a single GetOps call returns; a peer
// far behind pulls in several rounds rather than one unbounded response.
const catchUpBatchSize = 500

// InternalStatus handles GET /internal/status.
func (h *Handler) InternalStatus(c *gin.Context) {
	c.JSON(http.StatusOK, peer.ReplicationStatus{
		NodeID:             h.selfNodeID,
		ReplicationEnabled: !h.repl.Standalone(),
		PeerCount:          len(h.peers),
	})
}

// InternalPeers handles GET /internal/peers: this node's view of every
// configured peer's health, an introspection endpoint alongside the core
// peer protocol.
func (h *Handler) InternalPeers(c *gin.Context) {
	now := time.Now()
	statuses := make([]peer.PeerHealthStatus, 0, len(h.peers))
	for _, p := range h.peers {
		statuses = append(statuses, p.HealthStatus(now))
	}
	c.JSON(http.StatusOK, gin.H{"peers": statuses})
}

// InternalAnalyticsRollup handles POST /internal/analytics-rollup: a peer
// pushing its precomputed rollup for caching. The cached peer rollups are
// listed by InternalRollupCache; AnalyticsQuery reads only the rollup under
// this node's own ID and still queries every peer live, so a cached peer
// rollup does not replace that peer's fan-out call.
func (h *Handler) InternalAnalyticsRollup(c *gin.Context) {
	var rollup analytics.Rollup
	if err := c.ShouldBindJSON(&rollup); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.rollupCache.Put(rollup)
	c.Status(http.StatusNoContent)
}

// InternalRollupCache handles GET /internal/rollup-cache: introspection
// over every rollup this node currently has cached.
func (h *Handler) InternalRollupCache(c *gin.Context) {
	entries := h.rollupCache.Entries()
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}
