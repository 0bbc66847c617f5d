// cmd/server is the entrypoint for one Flapjack node.
//
// Configuration is file/environment driven so the same binary can run any
// role in a cluster — see internal/config for node.json and the env var
// fallbacks.
//
// Example — single standalone node:
//
//	./server --data-dir /var/flapjack/node1
//
// Example — node with peers (node.json in --data-dir, or PEERS env var):
//
//	./server --data-dir /var/flapjack/node1 --addr :7700
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flapjack/flapjack/internal/analytics"
	"github.com/flapjack/flapjack/internal/api"
	"github.com/flapjack/flapjack/internal/breaker"
	"github.com/flapjack/flapjack/internal/config"
	"github.com/flapjack/flapjack/internal/index"
	"github.com/flapjack/flapjack/internal/logging"
	"github.com/flapjack/flapjack/internal/memorybudget"
	"github.com/flapjack/flapjack/internal/metrics"
	"github.com/flapjack/flapjack/internal/oplog"
	"github.com/flapjack/flapjack/internal/peer"
	"github.com/flapjack/flapjack/internal/replication"
)

func main() {
	var (
		dataDir       string
		addr          string
		logLevel      string
		consoleLog    bool
		retentionDays int
	)

	root := &cobra.Command{
		Use:   "server",
		Short: "Run one Flapjack search node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dataDir, addr, logLevel, consoleLog, retentionDays)
		},
	}
	root.Flags().StringVar(&dataDir, "data-dir", "/tmp/flapjack", "directory for the oplog and node.json")
	root.Flags().StringVar(&addr, "addr", "", "listen address, overrides node.json/BIND_ADDR when set")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.Flags().BoolVar(&consoleLog, "console-log", false, "human-readable console logging instead of JSON")
	root.Flags().IntVar(&retentionDays, "retention-days", 90, "analytics partitions older than this are swept")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(dataDir, addrOverride, logLevel string, consoleLog bool, retentionDays int) error {
	log := logging.New(os.Stdout, logLevel, consoleLog)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_dir", dataDir).Msg("create data directory")
	}

	nodeCfg, err := config.LoadOrDefault(dataDir)
	if err != nil {
		log.Warn().Err(err).Msg("node config fell back to environment/defaults")
	}
	if addrOverride != "" {
		nodeCfg.Addr = addrOverride
	}

	// ── Durable oplog ──────────────────────────────────────────────────────
	oplogDir := dataDir + "/oplog"
	oplogs, err := oplog.Open(oplogDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open oplog")
	}
	defer oplogs.Close()

	// ── Write admission ────────────────────────────────────────────────────
	budgetCfg := config.MemoryBudgetFromEnv()
	maxBufferBytes, maxDocBytes := budgetCfg.ToBytes()
	budget := memorybudget.New(maxBufferBytes, budgetCfg.MaxConcurrentWriters, maxDocBytes)

	// ── Index manager ──────────────────────────────────────────────────────
	indexMgr := index.New(nodeCfg.NodeID, oplogs, budget)

	// ── Peers and replication ──────────────────────────────────────────────
	peerClients := make([]*peer.Client, 0, len(nodeCfg.Peers))
	for _, p := range nodeCfg.Peers {
		peerClients = append(peerClients, peer.New(p.NodeID, p.Addr))
	}

	replMgr := replication.New(nodeCfg.NodeID, dataDir, oplogs, indexMgr, peerClients, log)

	// ── Analytics cluster coordinator ──────────────────────────────────────
	// An explicit per-node handle built once here, not a process-wide
	// singleton — every node constructs its own and hands it to the
	// handler layer.
	peerQueriers := make([]analytics.PeerQuerier, 0, len(peerClients))
	for _, p := range peerClients {
		peerQueriers = append(peerQueriers, p)
	}
	coordinator := analytics.NewCoordinator(nodeCfg.NodeID, peerQueriers)
	rollupCache := analytics.NewRollupCache(10 * time.Minute)

	// ── HTTP server ─────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":       nodeCfg.NodeID,
			"status":     "ok",
			"standalone": nodeCfg.Standalone(),
			"tenants":    len(indexMgr.ListTenants()),
		})
	})

	handler := api.NewHandler(indexMgr, oplogs, replMgr, coordinator, rollupCache, peerClients, nodeCfg.NodeID, log)
	handler.Register(router)

	srv := &http.Server{
		Addr:         nodeCfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Background loops ────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	intervals := config.IntervalsFromEnv()
	go replMgr.RunStartupCatchUp(ctx)
	go replMgr.RunPeriodicSync(ctx, intervals.SyncIntervalSecs)
	go analytics.RunRetentionLoop(ctx, dataDir+"/analytics", retentionDays, func(format string, args ...any) {
		log.Info().Msgf(format, args...)
	})
	go reportBreakerStates(ctx, peerClients)

	go func() {
		log.Info().Str("node_id", nodeCfg.NodeID).Str("addr", nodeCfg.Addr).Int("peers", len(peerClients)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Str("node_id", nodeCfg.NodeID).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}

// reportBreakerStates mirrors every peer's circuit breaker state into the
// breaker_state gauge every few seconds, so the lock-free breaker's state
// is observable the same way the teacher's operational metrics are.
func reportBreakerStates(ctx context.Context, peers []*peer.Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range peers {
				var v float64
				switch p.Breaker.State() {
				case breaker.Closed:
					v = 0
				case breaker.HalfOpen:
					v = 1
				case breaker.Open:
					v = 2
				}
				metrics.BreakerState.WithLabelValues(p.PeerID).Set(v)
			}
		}
	}
}
