package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/transitpay/backend/internal/models"
)

func TestWalletService_Debit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil)
	ctx := context.Background()

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).
				AddRow(10000, models.CardStatusActive))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "CARD-AB12CD34", int64(-2500), models.KindFare, int64(7500), nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE cards SET balance = \\$1, updated_at = \\$2 WHERE card_id = \\$3").
			WithArgs(int64(7500), sqlmock.AnyArg(), "CARD-AB12CD34").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		balance, err := service.Debit(ctx, "CARD-AB12CD34", 2500, models.KindFare)
		assert.NoError(t, err)
		assert.Equal(t, int64(7500), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds writes nothing", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).
				AddRow(1000, models.CardStatusActive))

		mock.ExpectRollback()

		balance, err := service.Debit(ctx, "CARD-AB12CD34", 2500, models.KindFare)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(1000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked card is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).
				AddRow(10000, models.CardStatusBlocked))

		mock.ExpectRollback()

		_, err := service.Debit(ctx, "CARD-AB12CD34", 2500, models.KindFare)
		assert.ErrorIs(t, err, ErrCardNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown card", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-MISSING1").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.Debit(ctx, "CARD-MISSING1", 2500, models.KindFare)
		assert.ErrorIs(t, err, ErrCardNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Debit(ctx, "CARD-AB12CD34", 0, models.KindFare)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_Credit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil)
	ctx := context.Background()

	t.Run("successful credit with reference", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT card_id FROM ledger_entries WHERE external_reference = \\$1").
			WithArgs("ref-001").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).
				AddRow(10000, models.CardStatusActive))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "CARD-AB12CD34", int64(5000), models.KindTopup, int64(15000), "ref-001", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE cards SET balance = \\$1, updated_at = \\$2 WHERE card_id = \\$3").
			WithArgs(int64(15000), sqlmock.AnyArg(), "CARD-AB12CD34").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		balance, err := service.Credit(ctx, "CARD-AB12CD34", 5000, models.KindTopup, "ref-001")
		assert.NoError(t, err)
		assert.Equal(t, int64(15000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed reference is a no-op", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT card_id FROM ledger_entries WHERE external_reference = \\$1").
			WithArgs("ref-001").
			WillReturnRows(sqlmock.NewRows([]string{"card_id"}).AddRow("CARD-AB12CD34"))

		mock.ExpectQuery("SELECT balance FROM cards WHERE card_id = \\$1").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(15000))

		mock.ExpectRollback()

		balance, err := service.Credit(ctx, "CARD-AB12CD34", 5000, models.KindTopup, "ref-001")
		assert.NoError(t, err)
		assert.Equal(t, int64(15000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent duplicate yields to winner", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT card_id FROM ledger_entries WHERE external_reference = \\$1").
			WithArgs("ref-002").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT balance, status FROM cards").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).
				AddRow(10000, models.CardStatusActive))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505"})

		mock.ExpectRollback()

		mock.ExpectQuery("SELECT balance FROM cards WHERE card_id = \\$1").
			WithArgs("CARD-AB12CD34").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(15000))

		balance, err := service.Credit(ctx, "CARD-AB12CD34", 5000, models.KindTopup, "ref-002")
		assert.NoError(t, err)
		assert.Equal(t, int64(15000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := service.Credit(ctx, "CARD-AB12CD34", -100, models.KindTopup, "ref-003")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestWalletService_Entries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWalletService(db, nil)

	t.Run("returns entries newest first", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, transaction_id, card_id, amount, kind, balance_after, external_reference, created_at").
			WithArgs("CARD-AB12CD34", 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "card_id", "amount", "kind", "balance_after", "external_reference", "created_at"}).
				AddRow(2, "tx-2", "CARD-AB12CD34", -2500, models.KindFare, 7500, nil, now).
				AddRow(1, "tx-1", "CARD-AB12CD34", 10000, models.KindTopup, 10000, "ref-001", now.Add(-time.Hour)))

		entries, err := service.Entries(context.Background(), "CARD-AB12CD34", 50)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Equal(t, int64(-2500), entries[0].Amount)
		assert.Equal(t, models.KindTopup, entries[1].Kind)
		assert.NotNil(t, entries[1].ExternalReference)
		assert.Equal(t, "ref-001", *entries[1].ExternalReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
