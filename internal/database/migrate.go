package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migrate creates the fare-collection schema if it does not exist.
// trip_sessions carries the UNIQUE card_id constraint that enforces
// at most one open trip per card, and ledger_entries carries the partial
// unique index on external_reference that makes webhook crediting
// idempotent at the storage layer.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cardholders (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			surname TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id SERIAL PRIMARY KEY,
			card_id TEXT NOT NULL UNIQUE,
			holder_id INTEGER NOT NULL REFERENCES cardholders(id),
			balance BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'ZAR',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS trip_sessions (
			id SERIAL PRIMARY KEY,
			card_id TEXT NOT NULL UNIQUE REFERENCES cards(card_id),
			start_time TIMESTAMPTZ NOT NULL,
			start_lat DOUBLE PRECISION NOT NULL,
			start_lon DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trip_records (
			id BIGSERIAL PRIMARY KEY,
			trip_id TEXT NOT NULL UNIQUE,
			card_id TEXT NOT NULL REFERENCES cards(card_id),
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			start_lat DOUBLE PRECISION NOT NULL,
			start_lon DOUBLE PRECISION NOT NULL,
			end_lat DOUBLE PRECISION NOT NULL,
			end_lon DOUBLE PRECISION NOT NULL,
			distance_km DOUBLE PRECISION NOT NULL,
			fare BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			card_id TEXT NOT NULL REFERENCES cards(card_id),
			amount BIGINT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('topup', 'fare', 'refund')),
			balance_after BIGINT NOT NULL,
			external_reference TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_external_reference_key
			ON ledger_entries (external_reference)
			WHERE external_reference IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_card_id_idx
			ON ledger_entries (card_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS trip_records_card_id_idx
			ON trip_records (card_id, start_time DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("Database schema up to date")
	return nil
}
