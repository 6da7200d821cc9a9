package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, appcrypto.NoopCipher{}), mock
}

func TestAttemptEventLock_FirstWriterWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.AttemptEventLock(context.Background(), "evt_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptEventLock_LosesRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.AttemptEventLock(context.Background(), "evt_1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimNextTask_NoneReady(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM tasks").
		WillReturnError(sqlErrNoRows())
	mock.ExpectCommit()

	_, ok, err := store.ClaimNextTask(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextTask_ClaimsAndMarksRunning(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "merchant_id", "type", "payload", "status", "run_at", "created_at"}).
		AddRow(int64(7), "m1", "dunning_retry", []byte(`{"invoiceId":"in_1"}`), "pending", fixedTime(), fixedTime())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM tasks").WillReturnRows(rows)
	mock.ExpectExec("UPDATE tasks SET status = 'running'").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, ok, err := store.ClaimNextTask(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), claimed.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
