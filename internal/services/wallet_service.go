package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/transitpay/backend/internal/models"
)

// WalletService is the authoritative ledger for card balances. Every
// mutation runs inside one database transaction holding a FOR UPDATE lock
// on the card row, which serializes concurrent operations per card while
// leaving different cards fully parallel. Balance always equals the sum
// of ledger entries for the card.
type WalletService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewWalletService(db *sql.DB, redisClient *redis.Client) *WalletService {
	return &WalletService{db: db, redis: redisClient}
}

// lockCard acquires the row lock that serializes all mutations for a card.
func (ws *WalletService) lockCard(tx *sql.Tx, cardID string) (balance int64, status string, err error) {
	err = tx.QueryRow(`
		SELECT balance, status FROM cards
		WHERE card_id = $1
		FOR UPDATE`, cardID).Scan(&balance, &status)
	if err == sql.ErrNoRows {
		return 0, "", ErrCardNotFound
	}
	return balance, status, err
}

func (ws *WalletService) appendEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, card_id, amount, kind, balance_after, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.TransactionID, entry.CardID, entry.Amount, entry.Kind,
		entry.BalanceAfter, entry.ExternalReference, entry.CreatedAt)
	return err
}

func (ws *WalletService) updateBalance(tx *sql.Tx, cardID string, newBalance int64) error {
	_, err := tx.Exec(`
		UPDATE cards SET balance = $1, updated_at = $2 WHERE card_id = $3`,
		newBalance, time.Now(), cardID)
	return err
}

// DebitTx deducts amount from the card inside the caller's transaction.
// Fails with ErrInsufficientFunds before any row is written, so the
// caller's rollback leaves no trace.
func (ws *WalletService) DebitTx(tx *sql.Tx, transactionID, cardID string, amount int64, kind string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, status, err := ws.lockCard(tx, cardID)
	if err != nil {
		return 0, err
	}
	if status != models.CardStatusActive {
		return 0, ErrCardNotActive
	}
	if balance < amount {
		return balance, ErrInsufficientFunds
	}

	newBalance := balance - amount
	entry := &models.LedgerEntry{
		TransactionID: transactionID,
		CardID:        cardID,
		Amount:        -amount,
		Kind:          kind,
		BalanceAfter:  newBalance,
		CreatedAt:     time.Now(),
	}
	if err := ws.appendEntry(tx, entry); err != nil {
		return 0, err
	}
	if err := ws.updateBalance(tx, cardID, newBalance); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Debit runs DebitTx in its own transaction and returns the new balance.
func (ws *WalletService) Debit(ctx context.Context, cardID string, amount int64, kind string) (int64, error) {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	newBalance, err := ws.DebitTx(tx, uuid.New().String(), cardID, amount, kind)
	if err != nil {
		return newBalance, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	ws.cacheBalance(ctx, cardID, newBalance)
	return newBalance, nil
}

// Credit adds amount to the card. When externalReference is non-empty the
// operation is idempotent on it: a replay is a no-op that returns the
// current balance. The check-then-act below closes the common case; the
// partial unique index on ledger_entries.external_reference closes the
// race where two deliveries pass the check before either commits.
func (ws *WalletService) Credit(ctx context.Context, cardID string, amount int64, kind, externalReference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if externalReference != "" {
		var existingCard string
		err := tx.QueryRow(`
			SELECT card_id FROM ledger_entries WHERE external_reference = $1`,
			externalReference).Scan(&existingCard)
		if err == nil {
			log.Printf("[LEDGER] Reference %s already credited to %s, skipping", externalReference, existingCard)
			return ws.Balance(ctx, existingCard)
		}
		if err != sql.ErrNoRows {
			return 0, err
		}
	}

	balance, _, err := ws.lockCard(tx, cardID)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amount
	entry := &models.LedgerEntry{
		TransactionID: uuid.New().String(),
		CardID:        cardID,
		Amount:        amount,
		Kind:          kind,
		BalanceAfter:  newBalance,
		CreatedAt:     time.Now(),
	}
	if externalReference != "" {
		entry.ExternalReference = &externalReference
	}

	if err := ws.appendEntry(tx, entry); err != nil {
		if isUniqueViolation(err) {
			// Lost the race against a concurrent delivery of the same
			// reference. The other transaction's credit stands.
			tx.Rollback()
			log.Printf("[LEDGER] Concurrent duplicate for reference %s, yielding", externalReference)
			return ws.Balance(ctx, cardID)
		}
		return 0, err
	}
	if err := ws.updateBalance(tx, cardID, newBalance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	ws.cacheBalance(ctx, cardID, newBalance)
	return newBalance, nil
}

// Balance reads the authoritative balance from the cards table.
func (ws *WalletService) Balance(ctx context.Context, cardID string) (int64, error) {
	var balance int64
	err := ws.db.QueryRowContext(ctx, `
		SELECT balance FROM cards WHERE card_id = $1`, cardID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrCardNotFound
	}
	return balance, err
}

// Entries returns the most recent ledger entries for a card, newest first.
func (ws *WalletService) Entries(ctx context.Context, cardID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := ws.db.QueryContext(ctx, `
		SELECT id, transaction_id, card_id, amount, kind, balance_after, external_reference, created_at
		FROM ledger_entries
		WHERE card_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.CardID, &e.Amount, &e.Kind,
			&e.BalanceAfter, &e.ExternalReference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// cacheBalance mirrors the committed balance into redis for dashboard
// reads. The cards table stays authoritative; cache failures are ignored.
func (ws *WalletService) cacheBalance(ctx context.Context, cardID string, balance int64) {
	if ws.redis == nil {
		return
	}
	if err := ws.redis.Set(ctx, "card_balance:"+cardID, balance, 5*time.Minute).Err(); err != nil {
		log.Printf("[LEDGER] Failed to cache balance for %s: %v", cardID, err)
	}
}

// ListLedger returns a card's ledger entries
// @Summary List ledger entries
// @Description Get the most recent ledger entries for a card
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 500 {object} map[string]string
// @Router /cards/{cardId}/ledger [get]
func (ws *WalletService) ListLedger(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	entries, err := ws.Entries(r.Context(), cardID, 50)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
