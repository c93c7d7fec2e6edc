package indexer

import (
	"context"
	"errors"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hedgelabs/telemetry-engine/internal/db"
	"github.com/hedgelabs/telemetry-engine/internal/evm"
	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// BridgeStore is the persistence slice the bridge indexer writes through.
type BridgeStore interface {
	InsertBridgeEvents(ctx context.Context, events []models.BridgeEvent) (int64, error)
	RollupWalletBridgeMetrics(ctx context.Context, wallet string) (models.WalletBridgeMetrics, error)
	SaveWalletBridgeMetrics(ctx context.Context, m models.WalletBridgeMetrics) error
	HistoricalPrice(ctx context.Context, token, day string) (float64, error)
	SaveHistoricalPrice(ctx context.Context, token, day string, usd float64) error
	RecordUnpricedToken(ctx context.Context, address, symbol string) error
}

// ExtractorScoreFn computes the extractor score and flags for a wallet's
// rolled-up bridge metrics. Kept as a function value so the indexer does not
// depend on the classification package.
type ExtractorScoreFn func(m models.WalletBridgeMetrics) (int, []string)

// BridgeIndexer consumes token and hero crossings on the bridge router.
// Token values resolve through the historical price cache first, then the
// live day pricer; tokens neither can value land in the unpriced catalog and
// their crossings carry priced=false.
type BridgeIndexer struct {
	bridge      common.Address
	homeChainID int64
	store       BridgeStore
	pricer      DayPricer
	views       ViewCaller
	score       ExtractorScoreFn

	// decimals memoizes ERC20 decimals lookups for the worker's lifetime.
	decimals map[string]uint8
	touched  map[string]struct{}
}

func NewBridgeIndexer(bridge string, homeChainID int64, store BridgeStore, pricer DayPricer, views ViewCaller, score ExtractorScoreFn) *BridgeIndexer {
	return &BridgeIndexer{
		bridge:      common.HexToAddress(bridge),
		homeChainID: homeChainID,
		store:       store,
		pricer:      pricer,
		views:       views,
		score:       score,
		decimals:    make(map[string]uint8),
		touched:     make(map[string]struct{}),
	}
}

func (b *BridgeIndexer) Filter() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{b.bridge},
		Topics: [][]common.Hash{{
			evm.BridgeABI.Events["TokenDeposit"].ID,
			evm.BridgeABI.Events["TokenWithdraw"].ID,
			evm.BridgeABI.Events["HeroSent"].ID,
			evm.BridgeABI.Events["HeroArrived"].ID,
		}},
	}
}

func (b *BridgeIndexer) HandleLogs(ctx context.Context, logs []types.Log, ts TimestampFn) (int64, error) {
	events := make([]models.BridgeEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		t, err := ts(ctx, lg.BlockNumber)
		if err != nil {
			return 0, err
		}

		var e models.BridgeEvent
		switch lg.Topics[0] {
		case evm.BridgeABI.Events["TokenDeposit"].ID:
			if len(lg.Data) < 96 {
				continue
			}
			e = models.BridgeEvent{
				Wallet:     topicAddr(lg.Topics[1]),
				BridgeType: models.BridgeTypeItem,
				Direction:  models.BridgeDirectionOut,
				Token:      strings.ToLower(common.BytesToAddress(lg.Data[32:64]).Hex()),
				Amount:     new(big.Int).SetBytes(lg.Data[64:96]).String(),
				SrcChainID: b.homeChainID,
				DstChainID: new(big.Int).SetBytes(lg.Data[0:32]).Int64(),
			}
		case evm.BridgeABI.Events["TokenWithdraw"].ID:
			if len(lg.Data) < 96 {
				continue
			}
			e = models.BridgeEvent{
				Wallet:     topicAddr(lg.Topics[1]),
				BridgeType: models.BridgeTypeItem,
				Direction:  models.BridgeDirectionIn,
				Token:      strings.ToLower(common.BytesToAddress(lg.Data[0:32]).Hex()),
				Amount:     new(big.Int).SetBytes(lg.Data[32:64]).String(),
				DstChainID: b.homeChainID,
			}
		case evm.BridgeABI.Events["HeroSent"].ID, evm.BridgeABI.Events["HeroArrived"].ID:
			if len(lg.Topics) < 3 || len(lg.Data) < 32 {
				continue
			}
			dir := models.BridgeDirectionOut
			if lg.Topics[0] == evm.BridgeABI.Events["HeroArrived"].ID {
				dir = models.BridgeDirectionIn
			}
			e = models.BridgeEvent{
				Wallet:     topicAddr(lg.Topics[2]),
				BridgeType: models.BridgeTypeHero,
				Direction:  dir,
				AssetID:    new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
				SrcChainID: b.homeChainID,
				DstChainID: new(big.Int).SetBytes(lg.Data[0:32]).Int64(),
			}
		default:
			continue
		}

		e.BlockNumber = lg.BlockNumber
		e.TxHash = lg.TxHash.Hex()
		e.Timestamp = t

		if e.BridgeType != models.BridgeTypeHero {
			day := time.Unix(t, 0).UTC().Format("2006-01-02")
			e.UsdValue, e.Priced = b.priceToken(ctx, e.Token, e.Amount, day)
		}

		b.touched[e.Wallet] = struct{}{}
		events = append(events, e)
	}
	return b.store.InsertBridgeEvents(ctx, events)
}

// priceToken values a wei amount in USD for the given day. Cache first, then
// the live pricer (backfilling the cache on a hit). Unresolvable tokens are
// cataloged once and the crossing stays unpriced.
func (b *BridgeIndexer) priceToken(ctx context.Context, token, amount, day string) (float64, bool) {
	wei, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0, false
	}
	units := weiToFloat(wei, b.tokenDecimals(ctx, token))

	usd, err := b.store.HistoricalPrice(ctx, token, day)
	if err == nil {
		return units * usd, true
	}
	if !errors.Is(err, db.ErrNotFound) {
		log.Printf("[bridge] Price cache read failed for %s: %v", token, err)
	}

	if usd, ok := b.pricer.PriceAt(ctx, token, day); ok {
		if err := b.store.SaveHistoricalPrice(ctx, token, day, usd); err != nil {
			log.Printf("[bridge] Price cache write failed for %s: %v", token, err)
		}
		return units * usd, true
	}

	if err := b.store.RecordUnpricedToken(ctx, token, b.tokenSymbol(ctx, token)); err != nil {
		log.Printf("[bridge] Unpriced token record failed for %s: %v", token, err)
	}
	return 0, false
}

func (b *BridgeIndexer) tokenDecimals(ctx context.Context, token string) uint8 {
	if d, ok := b.decimals[token]; ok {
		return d
	}
	d := uint8(18)
	out, err := b.views.CallView(ctx, common.HexToAddress(token), evm.ERC20ABI, "decimals")
	if err == nil {
		d = out[0].(uint8)
	}
	b.decimals[token] = d
	return d
}

func (b *BridgeIndexer) tokenSymbol(ctx context.Context, token string) string {
	out, err := b.views.CallView(ctx, common.HexToAddress(token), evm.ERC20ABI, "symbol")
	if err != nil {
		return ""
	}
	return out[0].(string)
}

// FinishBatch rebuilds the bridge rollup for every wallet the batch touched
// and refreshes its extractor score.
func (b *BridgeIndexer) FinishBatch(ctx context.Context) error {
	for wallet := range b.touched {
		m, err := b.store.RollupWalletBridgeMetrics(ctx, wallet)
		if err != nil {
			return err
		}
		m.ExtractorScore, m.ExtractorFlags = b.score(m)
		if err := b.store.SaveWalletBridgeMetrics(ctx, m); err != nil {
			return err
		}
	}
	b.touched = make(map[string]struct{})
	return nil
}

func topicAddr(t common.Hash) string {
	return strings.ToLower(common.BytesToAddress(t.Bytes()[12:]).Hex())
}
