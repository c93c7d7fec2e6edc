package evm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the contracts the engine reads. Parsed once at
// package init; a malformed fragment is a programming error, hence panic.

var (
	ERC20ABI   = mustABI(erc20ABIJSON)
	PairABI    = mustABI(pairABIJSON)
	FactoryABI = mustABI(factoryABIJSON)
	StakingABI = mustABI(stakingABIJSON)
	BridgeABI  = mustABI(bridgeABIJSON)
	HuntABI    = mustABI(huntABIJSON)
	PvpABI     = mustABI(pvpABIJSON)
	HeroABI    = mustABI(heroABIJSON)
	TavernABI  = mustABI(tavernABIJSON)
)

const erc20ABIJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const pairABIJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"event","name":"Swap","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"amount0In","type":"uint256","indexed":false},{"name":"amount1In","type":"uint256","indexed":false},{"name":"amount0Out","type":"uint256","indexed":false},{"name":"amount1Out","type":"uint256","indexed":false},{"name":"to","type":"address","indexed":true}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"allPairs","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"address"}]}
]`

const stakingABIJSON = `[
	{"type":"function","name":"poolLength","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"poolInfo","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"name":"lpToken","type":"address"},{"name":"allocPoint","type":"uint256"},{"name":"lastRewardBlock","type":"uint256"},{"name":"accRewardPerShare","type":"uint256"}]},
	{"type":"function","name":"userInfo","stateMutability":"view","inputs":[{"type":"uint256"},{"type":"address"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"rewardDebt","type":"uint256"}]},
	{"type":"function","name":"pendingReward","stateMutability":"view","inputs":[{"type":"uint256"},{"type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"event","name":"Deposit","inputs":[{"name":"user","type":"address","indexed":true},{"name":"pid","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdraw","inputs":[{"name":"user","type":"address","indexed":true},{"name":"pid","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardCollected","inputs":[{"name":"user","type":"address","indexed":true},{"name":"pid","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const bridgeABIJSON = `[
	{"type":"event","name":"TokenDeposit","inputs":[{"name":"to","type":"address","indexed":true},{"name":"chainId","type":"uint256","indexed":false},{"name":"token","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokenWithdraw","inputs":[{"name":"to","type":"address","indexed":true},{"name":"token","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false},{"name":"kappa","type":"bytes32","indexed":true}]},
	{"type":"event","name":"HeroSent","inputs":[{"name":"heroId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"arrivalChainId","type":"uint256","indexed":false}]},
	{"type":"event","name":"HeroArrived","inputs":[{"name":"heroId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"arrivalChainId","type":"uint256","indexed":false}]}
]`

const huntABIJSON = `[
	{"type":"event","name":"EncounterResolved","inputs":[{"name":"player","type":"address","indexed":true},{"name":"huntType","type":"uint8","indexed":false},{"name":"itemId","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"partyLuck","type":"uint256","indexed":false}]},
	{"type":"function","name":"activeExpeditions","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const pvpABIJSON = `[
	{"type":"event","name":"TournamentCompleted","inputs":[{"name":"tournamentId","type":"uint256","indexed":true},{"name":"player","type":"address","indexed":true},{"name":"heroId","type":"uint256","indexed":false},{"name":"placement","type":"uint8","indexed":false}]}
]`

const heroABIJSON = `[
	{"type":"function","name":"getHeroStats","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"name":"level","type":"uint16"},{"name":"mainClass","type":"uint8"},{"name":"subClass","type":"uint8"},{"name":"strength","type":"uint16"},{"name":"agility","type":"uint16"},{"name":"endurance","type":"uint16"},{"name":"wisdom","type":"uint16"},{"name":"luck","type":"uint16"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"address"}]}
]`

const tavernABIJSON = `[
	{"type":"function","name":"totalHeroesForSale","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"getHeroForSale","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"name":"heroId","type":"uint256"},{"name":"owner","type":"address"},{"name":"startingPrice","type":"uint256"},{"name":"generation","type":"uint16"},{"name":"rarity","type":"uint8"},{"name":"level","type":"uint16"}]}
]`

func mustABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI fragment: %v", err))
	}
	return parsed
}

// CallView executes an eth_call against a view method and unpacks the
// outputs. Calls pass through the client's in-flight semaphore so batched
// callers cannot stampede the endpoint.
func (c *Client) CallView(ctx context.Context, to common.Address, cabi abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	input, err := cabi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var out []byte
	err = c.withRetry(ctx, func() error {
		var err error
		out, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	results, err := cabi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return results, nil
}

// SupportsView reports whether a contract answers a zero-argument view method
// without reverting. Used at startup to detect optional functions
// (expedition views) that older contract versions lack.
func (c *Client) SupportsView(ctx context.Context, to common.Address, cabi abi.ABI, method string) bool {
	_, err := c.CallView(ctx, to, cabi, method)
	return err == nil
}

// BatchCall runs fn for every item with at most `parallel` calls in flight.
// The first error cancels the remaining work.
func BatchCall[T any](ctx context.Context, items []T, parallel int, fn func(ctx context.Context, item T) error) error {
	if parallel < 1 {
		parallel = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()
			return firstErr
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(it T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, it); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()
	return firstErr
}
