package db

import (
	"context"
	"fmt"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// Hunt/patrol, tournament and tavern storage.

func (s *Store) InsertHuntEvents(ctx context.Context, events []models.HuntEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO hunting_encounters
				(chain_id, wallet, hunt_type, drop_item, drop_amount, party_luck,
				 block_number, tx_hash, log_index, ts)
			VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10)
			ON CONFLICT (tx_hash, log_index) DO NOTHING;
		`, e.ChainID, e.Wallet, e.HuntType, e.DropItem, e.DropAmount, e.PartyLuck,
			e.BlockNumber, e.TxHash, e.LogIndex, ptime(e.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert hunt %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (s *Store) InsertTournamentPlacements(ctx context.Context, placements []models.TournamentPlacement) (int64, error) {
	var inserted int64
	for _, p := range placements {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO tournament_placements
				(tournament_id, wallet, hero_id, placement, block_number, tx_hash, log_index, ts)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (tx_hash, log_index) DO NOTHING;
		`, p.TournamentID, p.Wallet, p.HeroID, p.Placement, p.BlockNumber,
			p.TxHash, p.LogIndex, ptime(p.Timestamp))
		if err != nil {
			return inserted, fmt.Errorf("insert placement %s/%d: %w", p.TxHash, p.LogIndex, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// SaveHeroTournamentSnapshot freezes a hero's stats at participation time.
// First write wins: a later re-index must not overwrite history with the
// hero's current, possibly leveled-up stats.
func (s *Store) SaveHeroTournamentSnapshot(ctx context.Context, snap models.HeroTournamentSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hero_tournament_snapshots
			(tournament_id, hero_id, level, main_class, sub_class,
			 strength, agility, endurance, wisdom, luck)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (tournament_id, hero_id) DO NOTHING;
	`, snap.TournamentID, snap.HeroID, snap.Level, snap.MainClass, snap.SubClass,
		snap.Strength, snap.Agility, snap.Endurance, snap.Wisdom, snap.Luck)
	if err != nil {
		return fmt.Errorf("save hero snapshot %d/%s: %w", snap.TournamentID, snap.HeroID, err)
	}
	return nil
}

// CreateTavernSnapshot opens a new hourly snapshot and returns its id.
func (s *Store) CreateTavernSnapshot(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tavern_snapshots DEFAULT VALUES RETURNING id;`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create tavern snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) InsertTavernListings(ctx context.Context, listings []models.TavernListing) error {
	for _, l := range listings {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO tavern_listings
				(snapshot_id, hero_id, seller, price_wei, generation, rarity, level)
			VALUES ($1,$2,$3,$4::numeric,$5,$6,$7)
			ON CONFLICT (snapshot_id, hero_id) DO NOTHING;
		`, l.SnapshotID, l.HeroID, l.Seller, l.PriceWei, l.Generation, l.Rarity, l.Level)
		if err != nil {
			return fmt.Errorf("insert listing %d/%s: %w", l.SnapshotID, l.HeroID, err)
		}
	}
	return nil
}

// PreviousTavernListings loads the listings of the latest snapshot strictly
// before the given one, for diffing.
func (s *Store) PreviousTavernListings(ctx context.Context, beforeSnapshot int64) (int64, []models.TavernListing, error) {
	var prevID int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM tavern_snapshots WHERE id < $1 ORDER BY id DESC LIMIT 1;`,
		beforeSnapshot).Scan(&prevID)
	if err != nil {
		if noRows(err) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT l.snapshot_id, l.hero_id, l.seller, l.price_wei::text,
		       l.generation, l.rarity, l.level, EXTRACT(EPOCH FROM sn.taken_at)::bigint
		FROM tavern_listings l
		JOIN tavern_snapshots sn ON sn.id = l.snapshot_id
		WHERE l.snapshot_id = $1;
	`, prevID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var listings []models.TavernListing
	for rows.Next() {
		var l models.TavernListing
		if err := rows.Scan(&l.SnapshotID, &l.HeroID, &l.Seller, &l.PriceWei,
			&l.Generation, &l.Rarity, &l.Level, &l.TakenAt); err != nil {
			return 0, nil, err
		}
		listings = append(listings, l)
	}
	return prevID, listings, rows.Err()
}

func (s *Store) InsertTavernOutcomes(ctx context.Context, outcomes []models.TavernOutcome) error {
	for _, o := range outcomes {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO tavern_listing_history (hero_id, outcome, price_wei, listed_at, closed_at)
			VALUES ($1,$2,$3::numeric,$4,$5);
		`, o.HeroID, o.Outcome, o.PriceWei, ptime(o.ListedAt), ptime(o.ClosedAt))
		if err != nil {
			return fmt.Errorf("insert tavern outcome %s: %w", o.HeroID, err)
		}
	}
	return nil
}
