package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Bridge event storage and the per-wallet rollup the classifier reads.

// InsertBridgeEvents inserts bridge crossings idempotently on
// (tx_hash, wallet, bridge_type).
func (s *Store) InsertBridgeEvents(ctx context.Context, events []models.BridgeEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO bridge_events
				(wallet, bridge_type, direction, token, amount, asset_id, usd_value,
				 priced, src_chain_id, dst_chain_id, block_number, tx_hash, ts)
			VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,'')::numeric,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (tx_hash, wallet, bridge_type) DO NOTHING;
		`, e.Wallet, e.BridgeType, e.Direction, e.Token, e.Amount, e.AssetID, e.UsdValue,
			e.Priced, e.SrcChainID, e.DstChainID, e.BlockNumber, e.TxHash, ptime(e.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert bridge %s/%s: %w", e.TxHash, e.Wallet, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// RollupWalletBridgeMetrics recomputes a wallet's bridge metrics from its
// full event history. Rebuilding from scratch keeps the rollup idempotent:
// reprocessed events cannot double-count because the raw rows are unique.
func (s *Store) RollupWalletBridgeMetrics(ctx context.Context, wallet string) (models.WalletBridgeMetrics, error) {
	wallet = strings.ToLower(wallet)
	m := models.WalletBridgeMetrics{
		Wallet:     wallet,
		ByTokenIn:  make(map[string]float64),
		ByTokenOut: make(map[string]float64),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT bridge_type, direction, COALESCE(token, ''), usd_value, priced, block_number
		FROM bridge_events WHERE wallet = $1;
	`, wallet)
	if err != nil {
		return m, fmt.Errorf("rollup bridge metrics %s: %w", wallet, err)
	}
	defer rows.Close()

	for rows.Next() {
		var bridgeType, direction, token string
		var usd float64
		var priced bool
		var block uint64
		if err := rows.Scan(&bridgeType, &direction, &token, &usd, &priced, &block); err != nil {
			return m, err
		}
		if block > m.LastProcessedBlock {
			m.LastProcessedBlock = block
		}
		if bridgeType == models.BridgeTypeHero {
			if direction == models.BridgeDirectionIn {
				m.HeroesIn++
			} else {
				m.HeroesOut++
			}
			continue
		}
		// Unpriced transfers are excluded from USD totals, never counted as zero-value noise.
		if !priced {
			continue
		}
		if direction == models.BridgeDirectionIn {
			m.BridgedInUsd += usd
			if token != "" {
				m.ByTokenIn[token] += usd
			}
		} else {
			m.BridgedOutUsd += usd
			if token != "" {
				m.ByTokenOut[token] += usd
			}
		}
	}
	if err := rows.Err(); err != nil {
		return m, err
	}
	m.NetExtractedUsd = m.BridgedOutUsd - m.BridgedInUsd
	return m, nil
}

// SaveWalletBridgeMetrics persists a computed rollup.
func (s *Store) SaveWalletBridgeMetrics(ctx context.Context, m models.WalletBridgeMetrics) error {
	inJSON, _ := json.Marshal(m.ByTokenIn)
	outJSON, _ := json.Marshal(m.ByTokenOut)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_bridge_metrics
			(wallet, bridged_in_usd, bridged_out_usd, net_extracted_usd,
			 by_token_in, by_token_out, heroes_in, heroes_out,
			 last_processed_block, extractor_score, extractor_flags, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (wallet) DO UPDATE SET
			bridged_in_usd = EXCLUDED.bridged_in_usd,
			bridged_out_usd = EXCLUDED.bridged_out_usd,
			net_extracted_usd = EXCLUDED.net_extracted_usd,
			by_token_in = EXCLUDED.by_token_in,
			by_token_out = EXCLUDED.by_token_out,
			heroes_in = EXCLUDED.heroes_in,
			heroes_out = EXCLUDED.heroes_out,
			last_processed_block = EXCLUDED.last_processed_block,
			extractor_score = EXCLUDED.extractor_score,
			extractor_flags = EXCLUDED.extractor_flags,
			updated_at = NOW();
	`, m.Wallet, m.BridgedInUsd, m.BridgedOutUsd, m.NetExtractedUsd,
		string(inJSON), string(outJSON), m.HeroesIn, m.HeroesOut,
		m.LastProcessedBlock, m.ExtractorScore, strings.Join(m.ExtractorFlags, ","))
	if err != nil {
		return fmt.Errorf("save bridge metrics %s: %w", m.Wallet, err)
	}
	return nil
}

// WalletBridgeMetrics reads the persisted rollup for one wallet.
func (s *Store) WalletBridgeMetrics(ctx context.Context, wallet string) (models.WalletBridgeMetrics, error) {
	var m models.WalletBridgeMetrics
	var inJSON, outJSON, flags string
	err := s.pool.QueryRow(ctx, `
		SELECT wallet, bridged_in_usd, bridged_out_usd, net_extracted_usd,
		       by_token_in, by_token_out, heroes_in, heroes_out,
		       last_processed_block, extractor_score, extractor_flags
		FROM wallet_bridge_metrics WHERE wallet = $1;
	`, strings.ToLower(wallet)).Scan(&m.Wallet, &m.BridgedInUsd, &m.BridgedOutUsd,
		&m.NetExtractedUsd, &inJSON, &outJSON, &m.HeroesIn, &m.HeroesOut,
		&m.LastProcessedBlock, &m.ExtractorScore, &flags)
	if err != nil {
		if noRows(err) {
			return m, ErrNotFound
		}
		return m, fmt.Errorf("bridge metrics %s: %w", wallet, err)
	}
	_ = json.Unmarshal([]byte(inJSON), &m.ByTokenIn)
	_ = json.Unmarshal([]byte(outJSON), &m.ByTokenOut)
	if flags != "" {
		m.ExtractorFlags = strings.Split(flags, ",")
	}
	return m, nil
}

// Historical price cache, keyed (token, UTC day).

func (s *Store) SaveHistoricalPrice(ctx context.Context, token, day string, usd float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO historical_prices (token, day, usd_price)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (token, day) DO UPDATE SET usd_price = EXCLUDED.usd_price;
	`, strings.ToLower(token), day, usd)
	return err
}

func (s *Store) HistoricalPrice(ctx context.Context, token, day string) (float64, error) {
	var usd float64
	err := s.pool.QueryRow(ctx,
		`SELECT usd_price FROM historical_prices WHERE token = $1 AND day = $2::date;`,
		strings.ToLower(token), day).Scan(&usd)
	if err != nil {
		if noRows(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return usd, nil
}

// RecordUnpricedToken catalogs a token the bridge indexer could not value.
// First sighting wins; resolving the price later flips the status.
func (s *Store) RecordUnpricedToken(ctx context.Context, address, symbol string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unpriced_tokens (address, symbol, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (address) DO NOTHING;
	`, strings.ToLower(address), symbol)
	return err
}

func (s *Store) SetUnpricedTokenStatus(ctx context.Context, address, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE unpriced_tokens SET status = $2 WHERE address = $1;`,
		strings.ToLower(address), status)
	return err
}
