package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTxMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func TestWithTx(t *testing.T) {
	t.Run("Success_CommitsAndExposesTx", func(t *testing.T) {
		db, mock := newTxMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			tx := ctx.Value(txKey{})
			require.NotNil(t, tx)
			assert.IsType(t, &sql.Tx{}, tx)
			return nil
		})

		assert.NoError(t, err)
	})

	t.Run("Error_RollsBackOnCallbackError", func(t *testing.T) {
		db, mock := newTxMock(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		callbackErr := errors.New("rotation conflict")
		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			return callbackErr
		})

		assert.ErrorIs(t, err, callbackErr)
	})

	t.Run("Error_BeginFails", func(t *testing.T) {
		db, mock := newTxMock(t)
		beginErr := errors.New("connection refused")
		mock.ExpectBegin().WillReturnError(beginErr)

		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			t.Fatal("callback must not run when begin fails")
			return nil
		})

		assert.ErrorIs(t, err, beginErr)
	})

	t.Run("Error_CommitFails", func(t *testing.T) {
		db, mock := newTxMock(t)
		commitErr := errors.New("deadlock detected")
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(commitErr)

		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			return nil
		})

		assert.ErrorIs(t, err, commitErr)
	})

	t.Run("Error_RollbackFailureKeepsCallbackError", func(t *testing.T) {
		db, mock := newTxMock(t)
		callbackErr := errors.New("reuse detected")
		rollbackErr := errors.New("connection lost")
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(rollbackErr)

		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			return callbackErr
		})

		assert.ErrorIs(t, err, callbackErr)
		assert.ErrorIs(t, err, rollbackErr)
	})
}

func TestGetTx(t *testing.T) {
	t.Run("ReturnsTxFromContext", func(t *testing.T) {
		db, mock := newTxMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
			querier := GetTx(ctx, db)
			assert.IsType(t, &sql.Tx{}, querier)
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("FallsBackToPool", func(t *testing.T) {
		db, _ := newTxMock(t)

		querier := GetTx(context.Background(), db)
		assert.Equal(t, db, querier)
	})
}
