package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestUniqueViolationMatchesConstraint(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "wallet_links_active_addr"}

	if !uniqueViolation(dup, "wallet_links_active_addr") {
		t.Error("direct duplicate-key error not matched")
	}
	if !uniqueViolation(fmt.Errorf("link wallet 0xaa: %w", dup), "wallet_links_active_addr") {
		t.Error("wrapped duplicate-key error not matched")
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "players_discord_id_key"}
	if uniqueViolation(other, "wallet_links_active_addr") {
		t.Error("duplicate on a different constraint must not match")
	}
	notNull := &pgconn.PgError{Code: "23502", ConstraintName: "wallet_links_active_addr"}
	if uniqueViolation(notNull, "wallet_links_active_addr") {
		t.Error("non-unique-violation code must not match")
	}
	if uniqueViolation(errors.New("connection reset"), "wallet_links_active_addr") {
		t.Error("plain error must not match")
	}
}
