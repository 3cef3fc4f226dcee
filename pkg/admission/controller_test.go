package admission

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockController(t *testing.T, opts Options) (*Controller, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	xdb := sqlx.NewDb(db, "mysql")
	return NewController(xdb, opts), mock
}

// timeNear matches a time argument within a tolerance, for TTL cutoffs
// computed from time.Now().
type timeNear struct {
	want time.Time
	tol  time.Duration
}

func (m timeNear) Match(v driver.Value) bool {
	tv, ok := v.(time.Time)
	if !ok {
		return false
	}

	d := tv.Sub(m.want)
	if d < 0 {
		d = -d
	}
	return d <= m.tol
}

func expectLockAcquired(mock sqlmock.Sqlmock, botID int64, timeoutSec int) {
	mock.ExpectQuery(queryBotLockTimeout).WithArgs(botID).
		WillReturnRows(sqlmock.NewRows([]string{"lock_timeout"}).AddRow(0))
	mock.ExpectQuery(queryAcquireLock).WithArgs(lockName(botID), timeoutSec).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
}

func expectCounts(mock sqlmock.Sqlmock, botID int64, maxConcurrent, open, reserved int, ttl time.Duration) {
	mock.ExpectQuery(queryMaxConcurrent).WithArgs(botID).
		WillReturnRows(sqlmock.NewRows([]string{"max_concurrent_trades"}).AddRow(maxConcurrent))
	mock.ExpectQuery(queryOpenPositions).WithArgs(botID).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(open))
	mock.ExpectQuery(queryActiveReserved).
		WithArgs(botID, timeNear{want: time.Now().Add(-ttl), tol: 5 * time.Second}).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(reserved))
}

func expectLockReleased(mock sqlmock.Sqlmock, botID int64) {
	mock.ExpectQuery(queryReleaseLock).WithArgs(lockName(botID)).
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))
}

func TestReserveIssuesToken(t *testing.T) {
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	expectLockAcquired(mock, 1, 10)
	expectCounts(mock, 1, 2, 1, 0, ttl)
	mock.ExpectExec(queryInsertRes).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectLockReleased(mock, 1)

	token, err := c.Reserve(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveLimitReached(t *testing.T) {
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	// open + active reservations == ceiling: no row written
	expectLockAcquired(mock, 1, 10)
	expectCounts(mock, 1, 2, 1, 1, ttl)
	expectLockReleased(mock, 1)

	token, err := c.Reserve(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCeilingInvariant(t *testing.T) {
	// three back-to-back reserves against maxConcurrent=2: the named lock
	// serializes callers, so each sees the previous caller's reservation
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	for reserved := 0; reserved < 2; reserved++ {
		expectLockAcquired(mock, 7, 10)
		expectCounts(mock, 7, 2, 0, reserved, ttl)
		mock.ExpectExec(queryInsertRes).
			WithArgs(int64(7), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectLockReleased(mock, 7)
	}

	expectLockAcquired(mock, 7, 10)
	expectCounts(mock, 7, 2, 0, 2, ttl)
	expectLockReleased(mock, 7)

	tokens := 0
	for i := 0; i < 3; i++ {
		token, err := c.Reserve(context.Background(), 7)
		require.NoError(t, err)
		if token != "" {
			tokens++
		}
	}

	assert.Equal(t, 2, tokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveExpiredReservationsExcluded(t *testing.T) {
	// an orphaned active row past its TTL is invisible to the count, so
	// the slot frees itself without any cleanup
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	expectLockAcquired(mock, 1, 10)
	expectCounts(mock, 1, 1, 0, 0, ttl)
	mock.ExpectExec(queryInsertRes).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectLockReleased(mock, 1)

	token, err := c.Reserve(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveLockTimeout(t *testing.T) {
	c, mock := newMockController(t, Options{})

	mock.ExpectQuery(queryBotLockTimeout).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"lock_timeout"}).AddRow(0))
	mock.ExpectQuery(queryAcquireLock).WithArgs(lockName(1), 10).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

	_, err := c.Reserve(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveBotLockTimeoutOverride(t *testing.T) {
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	mock.ExpectQuery(queryBotLockTimeout).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"lock_timeout"}).AddRow(5))
	mock.ExpectQuery(queryAcquireLock).WithArgs(lockName(3), 5).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	expectCounts(mock, 3, 1, 0, 0, ttl)
	mock.ExpectExec(queryInsertRes).
		WithArgs(int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectLockReleased(mock, 3)

	token, err := c.Reserve(context.Background(), 3)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeIdempotent(t *testing.T) {
	c, mock := newMockController(t, Options{})

	mock.ExpectExec(queryFinalizeRes).
		WithArgs(StatusReleased, sqlmock.AnyArg(), int64(1), "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(queryFinalizeRes).
		WithArgs(StatusReleased, sqlmock.AnyArg(), int64(1), "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Finalize(context.Background(), 1, "tok-1", OutcomeReleased))

	// second call hits no active row and is a quiet no-op
	require.NoError(t, c.Finalize(context.Background(), 1, "tok-1", OutcomeReleased))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus(t *testing.T) {
	ttl := 30 * time.Second
	c, mock := newMockController(t, Options{ReservationTTL: ttl})

	mock.ExpectQuery(queryMaxConcurrent).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"max_concurrent_trades"}).AddRow(4))
	mock.ExpectQuery(queryOpenPositions).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	mock.ExpectQuery(queryActiveReserved).
		WithArgs(int64(1), timeNear{want: time.Now().Add(-ttl), tol: 5 * time.Second}).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))

	st, err := c.Status(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, st.CurrentCount)
	assert.Equal(t, 1, st.Available)
	assert.False(t, st.IsFull)
	assert.Equal(t, 75.0, st.UtilizationPercent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
