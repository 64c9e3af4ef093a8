package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/foundermatch/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func newUnlockFixture(t *testing.T) (*UnlockService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	ledger := NewCreditLedgerService(db)
	return NewUnlockService(db, nil, ledger), mock, db
}

func TestUnlockService_Unlock(t *testing.T) {
	t.Run("first unlock charges and records", func(t *testing.T) {
		service, mock, db := newUnlockFixture(t)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT account_id, credits, version, updated_at FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "credits", "version", "updated_at"}).
				AddRow("acct-1", 5, 1, time.Now()))

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT account_id, credits, version, updated_at FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "credits", "version", "updated_at"}).
				AddRow("acct-1", 5, 1, time.Now()))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), "acct-1", int64(-1), "UNLOCK_SPEND", "INVESTOR_PROFILE", "inv-1", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE account_balances SET credits = \\$1").
			WithArgs(int64(4), sqlmock.AnyArg(), "acct-1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.Unlock(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-1", 1)
		assert.NoError(t, err)
		assert.Equal(t, StatusUnlocked, result.Status)
		assert.Equal(t, int64(4), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat unlock is free", func(t *testing.T) {
		service, mock, db := newUnlockFixture(t)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectQuery("SELECT credits FROM account_balances WHERE account_id = \\$1").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(4))

		result, err := service.Unlock(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-1", 1)
		assert.NoError(t, err)
		assert.Equal(t, StatusAlreadyUnlocked, result.Status)
		assert.Equal(t, int64(4), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient credits makes no changes", func(t *testing.T) {
		service, mock, db := newUnlockFixture(t)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-2", "INTRODUCTION", "intro-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT account_id, credits, version, updated_at FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-2").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "credits", "version", "updated_at"}).
				AddRow("acct-2", 0, 1, time.Now()))

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-2", "INTRODUCTION", "intro-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectRollback()

		result, err := service.Unlock(context.Background(), "acct-2", models.ResourceIntroduction, "intro-1", 1)
		assert.NoError(t, err)
		assert.Equal(t, StatusInsufficientCredits, result.Status)
		assert.Equal(t, int64(0), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent loser sees already unlocked", func(t *testing.T) {
		service, mock, db := newUnlockFixture(t)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "PIPELINE_CHAT", "chat-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT account_id, credits, version, updated_at FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "credits", "version", "updated_at"}).
				AddRow("acct-1", 5, 2, time.Now()))

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "PIPELINE_CHAT", "chat-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectExec("INSERT INTO unlock_records").
			WithArgs("acct-1", "PIPELINE_CHAT", "chat-1", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})

		mock.ExpectRollback()

		result, err := service.Unlock(context.Background(), "acct-1", models.ResourcePipelineChat, "chat-1", 1)
		assert.NoError(t, err)
		assert.Equal(t, StatusAlreadyUnlocked, result.Status)
		assert.Equal(t, int64(5), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("committed winner found on in-transaction recheck", func(t *testing.T) {
		service, mock, db := newUnlockFixture(t)
		defer db.Close()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-2").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT account_id, credits, version, updated_at FROM account_balances WHERE account_id = \\$1 FOR UPDATE").
			WithArgs("acct-1").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "credits", "version", "updated_at"}).
				AddRow("acct-1", 4, 2, time.Now()))

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-2").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectRollback()

		result, err := service.Unlock(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-2", 1)
		assert.NoError(t, err)
		assert.Equal(t, StatusAlreadyUnlocked, result.Status)
		assert.Equal(t, int64(4), result.NewBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid inputs rejected", func(t *testing.T) {
		service, _, db := newUnlockFixture(t)
		defer db.Close()

		_, err := service.Unlock(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-1", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = service.Unlock(context.Background(), "acct-1", models.ResourceKind("FOUNDER_SECRETS"), "x", 1)
		assert.ErrorIs(t, err, ErrInvalidResourceKind)
	})
}

func TestUnlockService_CheckUnlocked(t *testing.T) {
	t.Run("cache hit skips the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewUnlockService(db, redisClient, NewCreditLedgerService(db))

		redisMock.ExpectGet("unlock:acct-1:INVESTOR_PROFILE:inv-1").SetVal("1")

		unlocked, err := service.CheckUnlocked(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-1")
		assert.NoError(t, err)
		assert.True(t, unlocked)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache miss falls back to the database and backfills", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewUnlockService(db, redisClient, NewCreditLedgerService(db))

		redisMock.ExpectGet("unlock:acct-1:INVESTOR_PROFILE:inv-1").RedisNil()

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INVESTOR_PROFILE", "inv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		redisMock.ExpectSet("unlock:acct-1:INVESTOR_PROFILE:inv-1", "1", 0).SetVal("OK")

		unlocked, err := service.CheckUnlocked(context.Background(), "acct-1", models.ResourceInvestorProfile, "inv-1")
		assert.NoError(t, err)
		assert.True(t, unlocked)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("locked resource is not cached", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewUnlockService(db, nil, NewCreditLedgerService(db))

		mock.ExpectQuery("SELECT EXISTS \\( SELECT 1 FROM unlock_records").
			WithArgs("acct-1", "INTRODUCTION", "intro-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		unlocked, err := service.CheckUnlocked(context.Background(), "acct-1", models.ResourceIntroduction, "intro-1")
		assert.NoError(t, err)
		assert.False(t, unlocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewUnlockService(db, nil, NewCreditLedgerService(db))

		_, err = service.CheckUnlocked(context.Background(), "acct-1", models.ResourceKind(""), "x")
		assert.ErrorIs(t, err, ErrInvalidResourceKind)
	})
}

func TestUnlockService_ListUnlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUnlockService(db, nil, NewCreditLedgerService(db))

	t.Run("returns unlocks newest first", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT account_id, resource_kind, resource_id, unlocked_at FROM unlock_records WHERE account_id = \\$1 AND resource_kind = \\$2").
			WithArgs("acct-1", "INVESTOR_PROFILE").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "resource_kind", "resource_id", "unlocked_at"}).
				AddRow("acct-1", "INVESTOR_PROFILE", "inv-2", now).
				AddRow("acct-1", "INVESTOR_PROFILE", "inv-1", now.Add(-time.Hour)))

		records, err := service.ListUnlocks(context.Background(), "acct-1", models.ResourceInvestorProfile)
		assert.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "inv-2", records[0].ResourceID)
		assert.Equal(t, "inv-1", records[1].ResourceID)
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		_, err := service.ListUnlocks(context.Background(), "acct-1", models.ResourceKind("BAD"))
		assert.ErrorIs(t, err, ErrInvalidResourceKind)
	})
}
