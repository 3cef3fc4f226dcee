package admission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/types"
)

// ErrLockTimeout means the admission lock could not be acquired in time.
// Callers may retry; a limit-reached outcome (empty token, nil error) must
// not be retried within the same trigger.
var ErrLockTimeout = errors.New("admission: lock acquisition timed out")

type Outcome string

const (
	OutcomeReleased  Outcome = "released"
	OutcomeCancelled Outcome = "cancelled"
)

const (
	StatusActive    = "active"
	StatusReleased  = "released"
	StatusCancelled = "cancelled"
)

// Reservation is a time-bounded claim on one unit of a bot's concurrency
// ceiling. An orphaned active row ages out of the count once its TTL passes;
// no delete is required for correctness.
type Reservation struct {
	ID         int64        `db:"id"`
	BotID      int64        `db:"bot_id"`
	Token      string       `db:"token"`
	Status     string       `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	ReleasedAt sql.NullTime `db:"released_at"`
}

type Status struct {
	CurrentCount       int     `json:"currentCount"`
	Available          int     `json:"available"`
	IsFull             bool    `json:"isFull"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}

type Options struct {
	ReservationTTL time.Duration
	LockTimeout    time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReservationTTL: 30 * time.Second,
		LockTimeout:    10 * time.Second,
	}
}

const (
	queryBotLockTimeout   = "SELECT lock_timeout FROM bots WHERE id = ?"
	queryAcquireLock      = "SELECT GET_LOCK(?, ?)"
	queryReleaseLock      = "SELECT RELEASE_LOCK(?)"
	queryMaxConcurrent    = "SELECT max_concurrent_trades FROM bots WHERE id = ?"
	queryOpenPositions    = "SELECT COUNT(*) FROM positions WHERE bot_id = ? AND status = 'open'"
	queryActiveReserved   = "SELECT COUNT(*) FROM reservations WHERE bot_id = ? AND status = 'active' AND created_at > ?"
	queryInsertRes        = "INSERT INTO reservations (bot_id, token, status, created_at) VALUES (?, ?, 'active', ?)"
	queryFinalizeRes      = "UPDATE reservations SET status = ?, released_at = ? WHERE bot_id = ? AND token = ? AND status = 'active'"
	querySweepReservation = "UPDATE reservations SET status = 'cancelled', released_at = ? WHERE status = 'active' AND created_at < ?"
)

// Controller admits new positions against a per-bot concurrency ceiling.
// Multiple workers, possibly in different processes, may race to open
// positions for the same bot; the count-and-insert runs under a MySQL named
// lock so at most one of them holds the critical section at a time.
type Controller struct {
	db   *sqlx.DB
	opts Options

	logger *logrus.Entry
}

func NewController(db *sqlx.DB, opts Options) *Controller {
	def := DefaultOptions()
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = def.ReservationTTL
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}

	return &Controller{
		db:     db,
		opts:   opts,
		logger: logrus.WithField("component", "admission"),
	}
}

func lockName(botID int64) string {
	return fmt.Sprintf("ocbot:admission:%d", botID)
}

// Reserve issues a reservation token when the bot is under its ceiling. An
// empty token with a nil error is the limit-reached outcome, not a failure.
func (c *Controller) Reserve(ctx context.Context, botID int64) (token string, err error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return "", errors.Wrap(err, "admission: acquiring connection")
	}
	defer conn.Close()

	lockTimeout := c.opts.LockTimeout

	var override types.Duration
	if err := conn.GetContext(ctx, &override, queryBotLockTimeout, botID); err == nil && override.Duration() > 0 {
		lockTimeout = override.Duration()
	}

	name := lockName(botID)

	var got sql.NullInt64
	if err := conn.GetContext(ctx, &got, queryAcquireLock, name, int(lockTimeout.Seconds())); err != nil {
		return "", errors.Wrap(err, "admission: acquiring lock")
	}

	if !got.Valid || got.Int64 != 1 {
		return "", ErrLockTimeout
	}

	// release via the same connection that acquired, even on error paths;
	// a fresh context so cancellation can not leak the lock
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var released sql.NullInt64
		if err := conn.GetContext(releaseCtx, &released, queryReleaseLock, name); err != nil {
			c.logger.WithError(err).Errorf("failed to release lock %s", name)
		}
	}()

	var maxConcurrent int
	if err := conn.GetContext(ctx, &maxConcurrent, queryMaxConcurrent, botID); err != nil {
		return "", errors.Wrapf(err, "admission: loading bot %d", botID)
	}

	now := time.Now()

	var openCount int
	if err := conn.GetContext(ctx, &openCount, queryOpenPositions, botID); err != nil {
		return "", errors.Wrap(err, "admission: counting open positions")
	}

	var reservedCount int
	expiry := now.Add(-c.opts.ReservationTTL)
	if err := conn.GetContext(ctx, &reservedCount, queryActiveReserved, botID, expiry); err != nil {
		return "", errors.Wrap(err, "admission: counting reservations")
	}

	if openCount+reservedCount >= maxConcurrent {
		limitReachedMetrics.Inc()
		c.logger.Debugf("bot %d at ceiling: open=%d reserved=%d max=%d",
			botID, openCount, reservedCount, maxConcurrent)
		return "", nil
	}

	token = uuid.New().String()
	if _, err := conn.ExecContext(ctx, queryInsertRes, botID, token, now); err != nil {
		return "", errors.Wrap(err, "admission: inserting reservation")
	}

	reservationsIssuedMetrics.Inc()
	return token, nil
}

// Finalize settles a reservation as released (position opened) or cancelled
// (attempt failed). Missing or already-finalized rows are a no-op, so the
// call is idempotent.
func (c *Controller) Finalize(ctx context.Context, botID int64, token string, outcome Outcome) error {
	status := StatusCancelled
	if outcome == OutcomeReleased {
		status = StatusReleased
	}

	res, err := c.db.ExecContext(ctx, queryFinalizeRes, status, time.Now(), botID, token)
	if err != nil {
		return errors.Wrap(err, "admission: finalizing reservation")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		c.logger.Debugf("finalize no-op for bot %d token %s", botID, token)
	}

	return nil
}

// Status is a best-effort, non-locking read for dashboards and fast-path
// short-circuits. It can be stale the moment it returns; only Reserve is
// authoritative.
func (c *Controller) Status(ctx context.Context, botID int64) (*Status, error) {
	var maxConcurrent int
	if err := c.db.GetContext(ctx, &maxConcurrent, queryMaxConcurrent, botID); err != nil {
		return nil, errors.Wrapf(err, "admission: loading bot %d", botID)
	}

	var openCount int
	if err := c.db.GetContext(ctx, &openCount, queryOpenPositions, botID); err != nil {
		return nil, errors.Wrap(err, "admission: counting open positions")
	}

	var reservedCount int
	expiry := time.Now().Add(-c.opts.ReservationTTL)
	if err := c.db.GetContext(ctx, &reservedCount, queryActiveReserved, botID, expiry); err != nil {
		return nil, errors.Wrap(err, "admission: counting reservations")
	}

	current := openCount + reservedCount
	st := &Status{
		CurrentCount: current,
		Available:    maxConcurrent - current,
		IsFull:       current >= maxConcurrent,
	}

	if st.Available < 0 {
		st.Available = 0
	}

	if maxConcurrent > 0 {
		st.UtilizationPercent = float64(current) / float64(maxConcurrent) * 100
	}

	return st, nil
}
