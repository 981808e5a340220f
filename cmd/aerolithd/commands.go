package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aerolithdb/aerolithdb/pkg/config"
	"github.com/aerolithdb/aerolithdb/pkg/metrics"
	"github.com/aerolithdb/aerolithdb/pkg/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run this node, joining or rejoining its configured cluster",
	Long: `start loads the node's configuration, bootstraps every subsystem
(identity, storage, consensus, query), and serves peer traffic until
interrupted. Whether this node forms a brand new single-node cluster or
joins the peers listed under cluster.peers depends entirely on the
configuration file — see the bootstrap subcommand for the explicit,
guarded form of the single-node case.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, false)
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a brand new cluster with this node as its first member",
	Long: `bootstrap is start with one extra guard: it refuses to run if
cluster.peers is non-empty, since that configuration means this node is
meant to join an existing cluster, not found a new one. Use it the first
time a cluster's first node starts; use start for every node after that,
including this one on subsequent restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report this node's on-disk cluster and identity state",
	Long: `status opens the node's data directory and reports its identity,
collections, and last-known consensus state, then exits. It reads the
same durable stores the running process would, so it must be run against
a stopped node — bbolt and the Raft log both hold exclusive file locks
while aerolithd is running; this is a local diagnostic, not a query
against a live peer (this repo has no client-facing gateway — see
DESIGN.md).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		n, err := node.New(cfg)
		if err != nil {
			return fmt.Errorf("open node state: %w", err)
		}
		defer n.Shutdown()

		ctx := context.Background()
		info := n.NodeInfo()
		fmt.Printf("Node: %s\n", info.PeerID)
		fmt.Printf("  Bind address: %s\n", info.BindAddr)
		fmt.Printf("  Data directory: %s\n", info.DataDir)
		fmt.Printf("  Identity fingerprint: %s\n", info.Fingerprint)

		status, err := n.ClusterStatus(ctx)
		if err != nil {
			return fmt.Errorf("read cluster status: %w", err)
		}
		fmt.Printf("  Algorithm: %s\n", status.Algorithm)
		fmt.Printf("  Leader: %s (self is leader: %v)\n", status.Leader, status.IsLeader)
		fmt.Printf("  Peers: %d\n", status.PeerCount)
		fmt.Printf("  Applied index: %d\n", status.AppliedIndex)
		fmt.Printf("  Collections: %d\n", status.Collections)
		for _, c := range n.ListCollections() {
			fmt.Printf("    - %s\n", c)
		}
		return nil
	},
}

func loadConfig(cmd *cobra.Command) (config.Configuration, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func runNode(cmd *cobra.Command, bootstrapping bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bootstrapping && len(cfg.Cluster.Peers) > 0 {
		return fmt.Errorf("bootstrap: cluster.peers is non-empty (%d entries); this node is configured to join an existing cluster, use start instead", len(cfg.Cluster.Peers))
	}

	fmt.Printf("Starting aerolithd node %q (algorithm: %s)\n", cfg.NodeID, cfg.Consensus.Algorithm)
	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	fmt.Printf("✓ node started, bind address %s\n", cfg.BindAddr)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.SetVersion(Version)
		metrics.RegisterComponent("consensus", true, "bootstrapped")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ metrics endpoint: http://%s/metrics\n", cfg.Metrics.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := n.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("✓ shutdown complete")
	return nil
}
