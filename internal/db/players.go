package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Player, cluster and wallet-link storage. The cluster owns wallets; the
// player references its cluster key. Queries traverse the join, never an
// in-memory pointer graph.

// ErrWalletTaken is returned when an address is already active in another cluster.
var ErrWalletTaken = errors.New("wallet already linked to another cluster")

// EnsurePlayer upserts a player by Discord id and atomically creates the
// sibling balance and settings rows on first insert. Calling it twice with
// the same id is a no-op beyond a username refresh.
func (s *Store) EnsurePlayer(ctx context.Context, discordID, username string) (models.Player, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Player{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p models.Player
	err = tx.QueryRow(ctx, `
		INSERT INTO players (discord_id, username)
		VALUES ($1, $2)
		ON CONFLICT (discord_id) DO UPDATE SET
			username = EXCLUDED.username, updated_at = NOW()
		RETURNING id, discord_id, username, COALESCE(cluster_key, ''), tier, state,
		          archetype, flags, profile_data,
		          EXTRACT(EPOCH FROM first_seen_at)::bigint,
		          EXTRACT(EPOCH FROM updated_at)::bigint;
	`, discordID, username).Scan(&p.ID, &p.DiscordID, &p.Username, &p.ClusterKey,
		&p.Tier, &p.State, &p.Archetype, &flagsScanner{&p.Flags}, &p.ProfileData,
		&p.FirstSeenAt, &p.UpdatedAt)
	if err != nil {
		return p, fmt.Errorf("ensure player %s: %w", discordID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO jewel_balances (player_id) VALUES ($1)
		ON CONFLICT (player_id) DO NOTHING;
	`, p.ID); err != nil {
		return p, fmt.Errorf("ensure balance %s: %w", discordID, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO player_settings (player_id) VALUES ($1)
		ON CONFLICT (player_id) DO NOTHING;
	`, p.ID); err != nil {
		return p, fmt.Errorf("ensure settings %s: %w", discordID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return p, err
	}
	return s.loadWallets(ctx, p)
}

// flagsScanner splits the comma-joined flags column into a slice.
type flagsScanner struct{ dst *[]string }

func (f *flagsScanner) Scan(src any) error {
	s, _ := src.(string)
	if s == "" {
		*f.dst = nil
		return nil
	}
	*f.dst = strings.Split(s, ",")
	return nil
}

// GetOrCreateCluster returns the player's cluster key, minting one on first use.
func (s *Store) GetOrCreateCluster(ctx context.Context, playerID int64) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(cluster_key, '') FROM players WHERE id = $1;`, playerID).Scan(&key)
	if err != nil {
		if noRows(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if key != "" {
		return key, nil
	}

	key = uuid.NewString()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_clusters (cluster_key, owner_player_id) VALUES ($1, $2);`,
		key, playerID); err != nil {
		return "", fmt.Errorf("create cluster for player %d: %w", playerID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE players SET cluster_key = $1, updated_at = NOW() WHERE id = $2;`,
		key, playerID); err != nil {
		return "", err
	}
	return key, tx.Commit(ctx)
}

// LinkWallet attaches an address to the player's cluster. Addresses are
// normalized to lowercase; the first wallet becomes primary; an address
// active in any other cluster is rejected.
func (s *Store) LinkWallet(ctx context.Context, playerID int64, address string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	key, err := s.GetOrCreateCluster(ctx, playerID)
	if err != nil {
		return err
	}

	var existingCluster string
	err = s.pool.QueryRow(ctx,
		`SELECT cluster_key FROM wallet_links WHERE address = $1 AND is_active;`,
		address).Scan(&existingCluster)
	switch {
	case err == nil:
		if existingCluster == key {
			return nil // already linked here
		}
		return ErrWalletTaken
	case !noRows(err):
		return err
	}

	var walletCount int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_links WHERE cluster_key = $1 AND is_active;`,
		key).Scan(&walletCount); err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_links (cluster_key, address, is_primary, is_active)
		VALUES ($1, $2, $3, TRUE);
	`, key, address, walletCount == 0)
	if err != nil {
		// Race loser: a concurrent link claimed the address between the
		// check and the insert.
		if uniqueViolation(err, "wallet_links_active_addr") {
			return ErrWalletTaken
		}
		return fmt.Errorf("link wallet %s: %w", address, err)
	}
	return nil
}

// loadWallets fills the player's wallet slice and primary wallet.
func (s *Store) loadWallets(ctx context.Context, p models.Player) (models.Player, error) {
	if p.ClusterKey == "" {
		return p, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT address, is_primary FROM wallet_links
		WHERE cluster_key = $1 AND is_active
		ORDER BY id;
	`, p.ClusterKey)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	p.Wallets = nil
	for rows.Next() {
		var addr string
		var primary bool
		if err := rows.Scan(&addr, &primary); err != nil {
			return p, err
		}
		p.Wallets = append(p.Wallets, addr)
		if primary {
			p.PrimaryWallet = addr
		}
	}
	return p, rows.Err()
}

// GetPlayerByDiscordID returns a player with wallets resolved.
func (s *Store) GetPlayerByDiscordID(ctx context.Context, discordID string) (models.Player, error) {
	p, err := s.scanPlayer(s.pool.QueryRow(ctx, playerSelect+` WHERE discord_id = $1;`, discordID))
	if err != nil {
		return p, err
	}
	return s.loadWallets(ctx, p)
}

// GetPlayer returns a player by surrogate id with wallets resolved.
func (s *Store) GetPlayer(ctx context.Context, id int64) (models.Player, error) {
	p, err := s.scanPlayer(s.pool.QueryRow(ctx, playerSelect+` WHERE id = $1;`, id))
	if err != nil {
		return p, err
	}
	return s.loadWallets(ctx, p)
}

const playerSelect = `
	SELECT id, discord_id, username, COALESCE(cluster_key, ''), tier, state,
	       archetype, flags, profile_data,
	       EXTRACT(EPOCH FROM first_seen_at)::bigint,
	       EXTRACT(EPOCH FROM updated_at)::bigint
	FROM players`

func (s *Store) scanPlayer(row pgx.Row) (models.Player, error) {
	var p models.Player
	err := row.Scan(&p.ID, &p.DiscordID, &p.Username, &p.ClusterKey, &p.Tier,
		&p.State, &p.Archetype, &flagsScanner{&p.Flags}, &p.ProfileData,
		&p.FirstSeenAt, &p.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return p, ErrNotFound
		}
		return p, fmt.Errorf("scan player: %w", err)
	}
	return p, nil
}

// ListPlayers returns a page of players ordered by first seen, newest first.
func (s *Store) ListPlayers(ctx context.Context, limit, offset int) ([]models.Player, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players;`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		playerSelect+` ORDER BY first_seen_at DESC LIMIT $1 OFFSET $2;`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]models.Player, 0)
	for rows.Next() {
		p, err := s.scanPlayer(rows)
		if err != nil {
			return nil, 0, err
		}
		players = append(players, p)
	}
	return players, total, rows.Err()
}

// UpdatePlayerTier sets the entitlement tier; the value is validated at the
// API layer against models.ValidTiers.
func (s *Store) UpdatePlayerTier(ctx context.Context, id int64, tier string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET tier = $2, updated_at = NOW() WHERE id = $1;`, id, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePlayerClassification persists a classifier run.
func (s *Store) UpdatePlayerClassification(ctx context.Context, id int64, archetype, state string, flags []string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE players SET archetype = $2, state = $3, flags = $4, updated_at = NOW()
		WHERE id = $1;
	`, id, archetype, state, strings.Join(flags, ","))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlayer removes a player by Discord id, cascading the balance first
// so a failed delete can never orphan funds accounting.
func (s *Store) DeletePlayer(ctx context.Context, discordID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if err := tx.QueryRow(ctx,
		`SELECT id FROM players WHERE discord_id = $1;`, discordID).Scan(&id); err != nil {
		if noRows(err) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM jewel_balances WHERE player_id = $1;`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM players WHERE id = $1;`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Settings.

func (s *Store) PlayerSettings(ctx context.Context, playerID int64) (models.PlayerSettings, error) {
	var st models.PlayerSettings
	err := s.pool.QueryRow(ctx, `
		SELECT notify_on_apr_drop, notify_on_new_optimization
		FROM player_settings WHERE player_id = $1;
	`, playerID).Scan(&st.NotifyOnAprDrop, &st.NotifyOnNewOptimization)
	if err != nil {
		if noRows(err) {
			return st, ErrNotFound
		}
		return st, err
	}
	return st, nil
}

// UpdatePlayerSettings patches only the provided fields.
func (s *Store) UpdatePlayerSettings(ctx context.Context, playerID int64, aprDrop, newOpt *bool) error {
	if aprDrop != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE player_settings SET notify_on_apr_drop = $2 WHERE player_id = $1;`,
			playerID, *aprDrop); err != nil {
			return err
		}
	}
	if newOpt != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE player_settings SET notify_on_new_optimization = $2 WHERE player_id = $1;`,
			playerID, *newOpt); err != nil {
			return err
		}
	}
	return nil
}

// Query cost accounting.

func (s *Store) RecordQueryCost(ctx context.Context, playerID int64, queryType string, cost float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_costs (player_id, query_type, cost_jewel) VALUES ($1, $2, $3);
	`, playerID, queryType, cost)
	return err
}

// QueryBreakdown returns the per-type query histogram with summed cost.
func (s *Store) QueryBreakdown(ctx context.Context) (map[string]struct {
	Count int64   `json:"count"`
	Jewel float64 `json:"jewel"`
}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT query_type, COUNT(*), COALESCE(SUM(cost_jewel), 0)
		FROM query_costs GROUP BY query_type;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct {
		Count int64   `json:"count"`
		Jewel float64 `json:"jewel"`
	})
	for rows.Next() {
		var qt string
		var entry struct {
			Count int64   `json:"count"`
			Jewel float64 `json:"jewel"`
		}
		if err := rows.Scan(&qt, &entry.Count, &entry.Jewel); err != nil {
			return nil, err
		}
		out[qt] = entry
	}
	return out, rows.Err()
}

// WalletActivity rolls up one wallet's trailing-30-day on-chain activity in
// a single round trip, same shape as Overview.
func (s *Store) WalletActivity(ctx context.Context, wallet string) (models.WalletActivity, error) {
	wallet = strings.ToLower(wallet)
	a := models.WalletActivity{Wallet: wallet}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pool_swap_events WHERE sender = $1 AND ts > NOW() - INTERVAL '30 days'),
			(SELECT COALESCE(SUM(volume_usd), 0) FROM pool_swap_events WHERE sender = $1 AND ts > NOW() - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM pool_reward_events WHERE wallet = $1 AND ts > NOW() - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM hunting_encounters WHERE wallet = $1 AND ts > NOW() - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM tournament_placements WHERE wallet = $1 AND ts > NOW() - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM tavern_listing_history h
				WHERE EXISTS (SELECT 1 FROM tavern_listings l WHERE l.hero_id = h.hero_id AND l.seller = $1)
				AND h.closed_at > NOW() - INTERVAL '30 days'),
			(SELECT COUNT(*) FROM bridge_events WHERE wallet = $1 AND ts > NOW() - INTERVAL '30 days');
	`, wallet).Scan(&a.SwapCount, &a.SwapVolumeUsd, &a.RewardClaims, &a.HuntCount,
		&a.TournamentCount, &a.TavernTrades, &a.BridgeCrossings)
	if err != nil {
		return a, fmt.Errorf("wallet activity %s: %w", wallet, err)
	}
	return a, nil
}

// OverviewStats feeds the admin analytics overview.
type OverviewStats struct {
	Players       int     `json:"players"`
	ActiveWallets int     `json:"activeWallets"`
	DepositsUsd   float64 `json:"depositsTotal"`
	Deposits      int     `json:"depositCount"`
	QueryCount    int64   `json:"queryCount"`
	BridgeOutUsd  float64 `json:"bridgeOutUsd"`
	BridgeInUsd   float64 `json:"bridgeInUsd"`
	TrackedPools  int     `json:"trackedPools"`
}

func (s *Store) Overview(ctx context.Context) (OverviewStats, error) {
	var o OverviewStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM players),
			(SELECT COUNT(*) FROM wallet_links WHERE is_active),
			(SELECT COALESCE(SUM(unique_amount), 0) FROM deposit_requests WHERE status = 'completed'),
			(SELECT COUNT(*) FROM deposit_requests WHERE status = 'completed'),
			(SELECT COUNT(*) FROM query_costs),
			(SELECT COALESCE(SUM(usd_value), 0) FROM bridge_events WHERE direction = 'out' AND priced),
			(SELECT COALESCE(SUM(usd_value), 0) FROM bridge_events WHERE direction = 'in' AND priced),
			(SELECT COUNT(DISTINCT pid) FROM pool_daily_aggregates);
	`).Scan(&o.Players, &o.ActiveWallets, &o.DepositsUsd, &o.Deposits,
		&o.QueryCount, &o.BridgeOutUsd, &o.BridgeInUsd, &o.TrackedPools)
	if err != nil {
		return o, fmt.Errorf("overview: %w", err)
	}
	return o, nil
}
