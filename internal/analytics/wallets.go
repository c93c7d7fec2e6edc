package analytics

import (
	"context"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hedgelabs/telemetry-engine/internal/evm"
)

// walletRewardPools caps how many pools are queried on-chain per wallet
// request. Pools beyond the cap are the smallest positions and rarely carry
// meaningful pending rewards.
const (
	walletRewardPools  = 10
	walletViewParallel = 10
)

// PoolReward is one pool's pending reward for a wallet.
type PoolReward struct {
	Pid           int     `json:"pid"`
	PairName      string  `json:"pairName"`
	StakedLp      string  `json:"stakedLp"`
	PendingReward string  `json:"pendingReward"` // wei
	PendingUsd    float64 `json:"pendingUsd"`
}

// WalletRewards is the per-wallet pending-reward summary.
type WalletRewards struct {
	Wallet          string       `json:"wallet"`
	Pools           []PoolReward `json:"pools"`
	TotalPendingUsd float64      `json:"totalPendingUsd"`
	Partial         bool         `json:"partial"`
}

// WalletRewards reads on-chain pending rewards for the wallet's staked
// pools, bounded by the request deadline. Pools that do not resolve before
// the deadline are omitted and the result is marked partial.
func (s *Service) WalletRewards(ctx context.Context, wallet string, deadline time.Duration) (WalletRewards, error) {
	wallet = strings.ToLower(wallet)
	out := WalletRewards{Wallet: wallet}

	pids, err := s.store.WalletPools(ctx, wallet)
	if err != nil {
		return out, err
	}
	if len(pids) > walletRewardPools {
		pids = pids[:walletRewardPools]
	}
	if len(pids) == 0 {
		return out, nil
	}

	graph, err := s.prices.Graph(ctx)
	if err != nil {
		return out, err
	}
	rewardPrice, _ := graph.Price(s.rewards)

	if deadline == 0 {
		deadline = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	addr := common.HexToAddress(wallet)
	var mu sync.Mutex
	rewards := make([]PoolReward, 0, len(pids))

	err = evm.BatchCall(ctx, pids, walletViewParallel, func(ctx context.Context, pid int) error {
		pool, err := s.pools.Pool(ctx, pid)
		if err != nil {
			return err
		}
		pending, err := s.chain.CallView(ctx, s.staking, evm.StakingABI, "pendingReward",
			big.NewInt(int64(pid)), addr)
		if err != nil {
			return err
		}
		info, err := s.chain.CallView(ctx, s.staking, evm.StakingABI, "userInfo",
			big.NewInt(int64(pid)), addr)
		if err != nil {
			return err
		}

		pendingWei := pending[0].(*big.Int)
		pr := PoolReward{
			Pid:           pid,
			PairName:      pool.Symbol0 + "-" + pool.Symbol1,
			StakedLp:      info[0].(*big.Int).String(),
			PendingReward: pendingWei.String(),
			PendingUsd:    weiToUnits(pendingWei, 18) * rewardPrice,
		}
		mu.Lock()
		rewards = append(rewards, pr)
		mu.Unlock()
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			return out, err
		}
		// Deadline: serve whatever resolved.
		out.Partial = true
		log.Printf("[Analytics] Wallet %s rewards partial: %d/%d pools before deadline",
			wallet, len(rewards), len(pids))
	}

	sort.Slice(rewards, func(i, j int) bool { return rewards[i].PendingUsd > rewards[j].PendingUsd })
	out.Pools = rewards
	for _, r := range rewards {
		out.TotalPendingUsd += r.PendingUsd
	}
	return out, nil
}

// WalletStakedUsd values a wallet's staked LP across all pools: each position
// is its share of the pair's total supply applied to the pair's TVL. Pools
// whose metadata fails to resolve are skipped rather than failing the whole
// valuation.
func (s *Service) WalletStakedUsd(ctx context.Context, wallet string) (float64, error) {
	positions, err := s.store.WalletStakerPositions(ctx, wallet)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}

	graph, err := s.prices.Graph(ctx)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, pos := range positions {
		pool, err := s.pools.Pool(ctx, pos.Pid)
		if err != nil {
			log.Printf("[Analytics] Pool %d metadata failed valuing %s: %v", pos.Pid, wallet, err)
			continue
		}
		staked, okStaked := new(big.Int).SetString(pos.StakedLp, 10)
		supply, okSupply := new(big.Int).SetString(pool.TotalSupply, 10)
		if !okStaked || !okSupply || supply.Sign() == 0 {
			continue
		}
		share, _ := new(big.Float).Quo(new(big.Float).SetInt(staked), new(big.Float).SetInt(supply)).Float64()
		total += share * pairTVL(pool, graph)
	}
	return total, nil
}
