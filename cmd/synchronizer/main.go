// Copyright 2025 Certen Protocol
//
// Command synchronizer runs the resumable beacon-chain walker: it follows
// blob transactions addressed to the coordinator's settlement address,
// verifies their wrapped proofs, and persists accepted state commitments
// to a local ledger for the read API to serve.
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
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/ad-server/internal/config"
	"github.com/certen/ad-server/internal/httpapi"
	"github.com/certen/ad-server/internal/proverclient"
	"github.com/certen/ad-server/internal/statehelper"
	syncer "github.com/certen/ad-server/internal/sync"
	"github.com/certen/ad-server/internal/sync/ledger"
	"github.com/certen/ad-server/internal/wrapper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.LoadSynchronizer()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	groups := statehelper.Groups(cfg.Groups)
	emptyContainer, err := statehelper.NewContainer(groups)
	if err != nil {
		log.Fatalf("build empty container: %v", err)
	}

	led, err := ledger.OpenStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("open ledger store: %v", err)
	}
	defer led.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	beacon := syncer.NewBeaconClient(cfg.BeaconURL, log.New(log.Writer(), "[BeaconClient] ", log.LstdFlags))

	execClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		log.Fatalf("dial execution RPC: %v", err)
	}

	proofWrapper, err := buildWrapper(cfg)
	if err != nil {
		log.Fatalf("build proof wrapper: %v", err)
	}

	walker, err := syncer.New(beacon, execClient, led, syncer.Config{
		GenesisSlot: cfg.GenesisSlot,
		ToAddr:      common.HexToAddress(cfg.ToAddr),
		RequestRate: cfg.RequestRate,
		EmptyState:  emptyContainer.Commitment(),
		Wrapper:     proofWrapper,
		Logger:      log.New(log.Writer(), "[Synchronizer] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("build walker: %v", err)
	}
	walkerErrs := make(chan error, 1)
	go func() { walkerErrs <- walker.Run(ctx) }()

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: httpapi.NewSynchronizerHandlers(led, nil).NewMux()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: httpapi.NewMetricsMux()}
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: httpapi.NewHealthMux(nil, led.Health)}

	go runServer("API", apiServer)
	go runServer("Metrics", metricsServer)
	go runServer("Health", healthServer)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-walkerErrs:
		if err != nil && err != context.Canceled {
			log.Printf("walker stopped: %v", err)
		}
	}

	log.Printf("shutting down synchronizer...")
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

// buildWrapper selects the verification-side counterpart of the
// coordinator's proof post-processing mode: the synchronizer never needs
// to produce a proof itself, so it builds the wrapper in verify-only use,
// recursing only through an HTTP-backed native recursor for the shrink
// mode, the same as the coordinator's own wiring.
func buildWrapper(cfg *config.Synchronizer) (wrapper.Wrapper, error) {
	switch cfg.ProofType {
	case "groth16":
		return wrapper.NewGrothWrapper(cfg.GrothSetupDir)
	default:
		prover := proverclient.New(proverServiceURL(), 30*time.Second, log.New(log.Writer(), "[ProverClient] ", log.LstdFlags))
		return wrapper.NewShrinkWrapper(prover)
	}
}

func proverServiceURL() string {
	if v := os.Getenv("PROVER_URL"); v != "" {
		return v
	}
	return "http://localhost:9500"
}
