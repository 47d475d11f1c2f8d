// Copyright 2025 Certen Protocol
//
// Command ad-server runs the coordinator: the single-consumer request
// pipeline that accepts membership-list mutations, proves each transition,
// and anchors the accepted proof to an EIP-4844 blob transaction.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/ad-server/internal/blobtx"
	"github.com/certen/ad-server/internal/config"
	"github.com/certen/ad-server/internal/coordinator"
	"github.com/certen/ad-server/internal/httpapi"
	"github.com/certen/ad-server/internal/predicate"
	"github.com/certen/ad-server/internal/proverclient"
	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/workerpool"
	"github.com/certen/ad-server/internal/wrapper"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ad-server: fatal panic: %v", r)
			os.Exit(1)
		}
	}()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.LoadCoordinator()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	groups := statehelper.Groups(cfg.Groups)
	depth := statehelper.DepthFor(len(groups))

	batch, err := predicate.Build(predicate.Params{ContainerDepth: depth, MaxCustomBatch: 16})
	if err != nil {
		log.Fatalf("build predicate batch: %v", err)
	}

	vdsRoot, err := cfg.DecodeVDSRoot()
	if err != nil {
		log.Fatalf("decode VDS_ROOT: %v", err)
	}

	store, err := coordinator.OpenStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if rows, err := store.LoadAll(context.Background()); err != nil {
		log.Printf("reconcile: could not load persisted lists: %v", err)
	} else {
		coordinator.Reconcile(context.Background(), cfg.SyncReconcileURL, rows, log.New(log.Writer(), "[Reconcile] ", log.LstdFlags))
	}

	artifacts, err := coordinator.NewArtifactStore(cfg.PodsPath)
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, err := blobtx.NewSender(ctx, blobtx.Config{
		RPCURL:       cfg.RPCURL,
		PrivKeyHex:   cfg.PrivKey,
		ToAddr:       common.HexToAddress(cfg.ToAddr),
		WatchTimeout: time.Duration(cfg.TxWatchTimeout) * time.Second,
		Logger:       log.New(log.Writer(), "[BlobSender] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("build blob sender: %v", err)
	}

	pool, err := workerpool.New(cfg.WorkerPoolSize, log.New(log.Writer(), "[WorkerPool] ", log.LstdFlags))
	if err != nil {
		log.Fatalf("build worker pool: %v", err)
	}
	pool.Start(ctx)
	defer pool.Stop()

	prover := proverclient.New(cfg.ProverURL, time.Duration(cfg.ProverTimeout)*time.Second,
		log.New(log.Writer(), "[ProverClient] ", log.LstdFlags))

	proofWrapper, err := buildWrapper(cfg, prover)
	if err != nil {
		log.Fatalf("build proof wrapper: %v", err)
	}

	queue, err := coordinator.New(coordinator.Config{
		Groups:    groups,
		Batch:     batch,
		VDSRoot:   vdsRoot,
		Store:     store,
		Artifacts: artifacts,
		Prover:    prover,
		Wrapper:   proofWrapper,
		Sender:    sender,
		Pool:      pool,
		Logger:    log.New(log.Writer(), "[Coordinator] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("build coordinator queue: %v", err)
	}
	queue.Start(ctx)

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: httpapi.NewCoordinatorHandlers(queue, nil).NewMux()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: httpapi.NewMetricsMux()}
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: httpapi.NewHealthMux(nil, store.Health)}

	go runServer("API", apiServer)
	go runServer("Metrics", metricsServer)
	go runServer("Health", healthServer)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down ad-server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	for name, srv := range map[string]*http.Server{"API": apiServer, "Metrics": metricsServer, "Health": healthServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("%s server shutdown error: %v", name, err)
		}
	}
}

func runServer(name string, srv *http.Server) {
	log.Printf("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("%s server failed: %v", name, err)
	}
}

// buildWrapper selects the proof post-processing mode named by
// cfg.ProofType: "plonky2" shrinks and compresses the native proof through
// the proving service's recursion endpoint, "groth16" recurses into a
// pairing-friendly circuit and checks a locally-loaded trusted setup.
func buildWrapper(cfg *config.Coordinator, prover *proverclient.Client) (wrapper.Wrapper, error) {
	switch cfg.ProofType {
	case "groth16":
		return wrapper.NewGrothWrapper(cfg.GrothSetupDir)
	default:
		return wrapper.NewShrinkWrapper(prover)
	}
}
