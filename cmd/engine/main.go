package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hedgelabs/telemetry-engine/internal/aggregator"
	"github.com/hedgelabs/telemetry-engine/internal/analytics"
	"github.com/hedgelabs/telemetry-engine/internal/api"
	"github.com/hedgelabs/telemetry-engine/internal/classify"
	"github.com/hedgelabs/telemetry-engine/internal/config"
	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/deposits"
	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/internal/indexer"
	"github.com/hedgelabs/telemetry-engine/internal/metrics"
	"github.com/hedgelabs/telemetry-engine/internal/pools"
	"github.com/hedgelabs/telemetry-engine/internal/pricing"
	"github.com/hedgelabs/telemetry-engine/internal/supervisor"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

func main() {
	log.Println("Starting HedgeLabs Telemetry Engine...")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}

	// Primary chain hosts the staking contract, DEX factory and deposit token.
	primary, err := evm.Dial(ctx, cfg.Chains[0])
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer primary.Close()

	secondaries := make(map[int64]*evm.Client)
	for _, ep := range cfg.Chains[1:] {
		client, err := evm.Dial(ctx, ep)
		if err != nil {
			log.Printf("Warning: secondary chain %s unavailable, its indexers are skipped: %v", ep.Name, err)
			continue
		}
		defer client.Close()
		secondaries[ep.ChainID] = client
	}

	discovery := pools.NewDiscovery(primary, cfg.StakingContract, cfg.FactoryContract)
	prices := pricing.NewGraphCache(discovery, cfg.AnchorToken,
		[][2]string{{cfg.AnchorToken, cfg.RewardToken}}, 0)

	analyticsSvc := analytics.NewService(store, discovery, prices, primary,
		cfg.StakingContract, cfg.RewardToken)

	matcher := deposits.NewMatcher(store, cfg.DepositAddress)
	monitor := deposits.NewMonitor(cfg.DepositToken, cfg.DepositAddress, 18, matcher)
	processor := deposits.NewProcessor(store, gardenOptimizer(analyticsSvc), 0)

	classifier := classify.NewService(store, analyticsSvc)
	agg := aggregator.New(store, discovery, prices, aggregator.DefaultAPRPolicy(), cfg.RewardToken)
	agg.SetCutoff(time.Duration(cfg.AggregateCutoffMinutes) * time.Minute)

	hub := api.NewHub()
	go hub.Run()

	sup := supervisor.New()

	sup.Add("price-warmer", func(ctx context.Context) error {
		if err := prices.Warm(ctx); err != nil {
			return err
		}
		log.Println("[PriceWarmer] Initial price graph built")
		return nil
	})

	// Indexer fleet. Pool enumeration must succeed before workers can be
	// declared; everything downstream reads from the same checkpoint table.
	poolList, err := discovery.AllPools(ctx)
	if err != nil {
		log.Fatalf("FATAL: pool discovery failed: %v", err)
	}
	log.Printf("Discovered %d staking pools", len(poolList))

	primaryEp := cfg.Chains[0]
	addWorker := func(name, kind string, pid int, chain indexer.ChainReader, ep models.ChainEndpoint, h indexer.Handler) {
		w := indexer.NewWorker(indexer.Config{
			Name:          name,
			Kind:          kind,
			Pid:           pid,
			GenesisBlock:  cfg.GenesisBlock,
			Confirmations: ep.Confirmations,
			ChunkSize:     ep.ChunkSize,
		}, chain, store, h)
		sup.Add(name, w.Run)
	}

	for _, p := range poolList {
		pid := p.Pid
		addWorker(fmt.Sprintf("stake-pool-%d", pid), "stake", pid, primary, primaryEp,
			indexer.NewStakeIndexer(cfg.StakingContract, pid, store, primary))
		addWorker(fmt.Sprintf("swap-pool-%d", pid), "swap", pid, primary, primaryEp,
			indexer.NewSwapIndexer(p, store, prices))
		addWorker(fmt.Sprintf("reward-pool-%d", pid), "reward", pid, primary, primaryEp,
			indexer.NewRewardIndexer(cfg.StakingContract, pid, store))
	}

	if cfg.BridgeContract != "" {
		addWorker("bridge", "bridge", -1, primary, primaryEp,
			indexer.NewBridgeIndexer(cfg.BridgeContract, primaryEp.ChainID, store, prices, primary, classify.ExtractorScore))
	}
	if cfg.HuntContract != "" {
		addWorker(fmt.Sprintf("hunt-%s", primaryEp.Name), "hunt", -1, primary, primaryEp,
			indexer.NewHuntIndexer(cfg.HuntContract, primaryEp.ChainID, store))
		for _, ep := range cfg.Chains[1:] {
			client, ok := secondaries[ep.ChainID]
			if !ok {
				continue
			}
			addWorker(fmt.Sprintf("hunt-%s", ep.Name), "hunt", -1, client, ep,
				indexer.NewHuntIndexer(cfg.HuntContract, ep.ChainID, store))
		}

		// Older hunt contract versions lack the expedition view; check once
		// and only run the gauge poller where it answers.
		huntAddr := common.HexToAddress(cfg.HuntContract)
		if primary.SupportsView(ctx, huntAddr, evm.HuntABI, "activeExpeditions") {
			sup.Add("expedition-gauge", func(ctx context.Context) error {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					out, err := primary.CallView(ctx, huntAddr, evm.HuntABI, "activeExpeditions")
					if err != nil {
						log.Printf("[ExpeditionGauge] Read failed: %v", err)
						continue
					}
					metrics.ActiveExpeditions.Set(float64(out[0].(*big.Int).Int64()))
				}
			})
		} else {
			log.Println("Hunt contract has no expedition view; expedition gauge disabled")
		}
	}
	if cfg.PVPContract != "" && cfg.HeroContract != "" {
		addWorker("tournament", "tournament", -1, primary, primaryEp,
			indexer.NewTournamentIndexer(cfg.PVPContract, cfg.HeroContract, store, primary))
	}
	if cfg.TavernContract != "" && cfg.HeroContract != "" {
		poller := indexer.NewTavernPoller(cfg.TavernContract, cfg.HeroContract, store, primary, 0)
		sup.Add("tavern-poller", poller.Run)
	}

	// Deposit pipeline: transfer monitor (operator-restartable), expiry
	// sweeper, optimization processor.
	monitorWorker := indexer.NewWorker(indexer.Config{
		Name:          "deposit-monitor",
		Kind:          "deposit",
		Pid:           -1,
		GenesisBlock:  cfg.GenesisBlock,
		Confirmations: primaryEp.Confirmations,
		ChunkSize:     primaryEp.ChunkSize,
	}, primary, store, monitor)
	restartMonitor := sup.AddRestartable("deposit-monitor", monitorWorker.Run)

	sup.Add("deposit-sweeper", func(ctx context.Context) error {
		return matcher.SweepLoop(ctx, time.Minute)
	})
	sup.Add("optimization-processor", processor.Run)

	sup.Add("daily-aggregator", agg.RunNightly)
	sup.Add("nightly-reclassifier", classifier.RunNightly)

	router := api.SetupRouter(cfg, store, analyticsSvc, discovery, classifier, hub, restartMonitor)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	sup.Add("http-server", func(ctx context.Context) error {
		log.Printf("Engine running on :%s", cfg.Port)
		return supervisor.ServeHTTP(ctx, srv, 15*time.Second)
	})

	sup.Run(ctx)
	log.Println("Shutdown complete")
}

// gardenOptimizer builds the paid optimization result: the current pools
// ranked by total APR, serialized as the stored result blob.
func gardenOptimizer(svc *analytics.Service) deposits.OptimizeFn {
	return func(ctx context.Context, opt models.GardenOptimization) (string, error) {
		all, err := svc.AllPoolAnalytics(ctx)
		if err != nil {
			return "", err
		}
		sort.Slice(all, func(i, j int) bool { return all[i].TotalApr > all[j].TotalApr })
		if len(all) > 5 {
			all = all[:5]
		}
		blob, err := json.Marshal(map[string]any{
			"version":     1,
			"wallet":      opt.Wallet,
			"generatedAt": time.Now().UTC().Format(time.RFC3339),
			"topPools":    all,
		})
		if err != nil {
			return "", err
		}
		return string(blob), nil
	}
}
