package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrQueueOverflow is returned to a job's submitter when the job was dropped
// under backpressure.
var ErrQueueOverflow = errors.New("request queue overflow, job dropped")

// CircuitOpenError is returned on enqueue while the rate gate breaker is
// open. Cooldown is the remaining time before the scheduler accepts work
// again.
type CircuitOpenError struct {
	Cooldown time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("request circuit open, retry in %s", e.Cooldown)
}

func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return errors.As(err, &e)
}

// IsTimeoutError decides whether a job failure counts against the adaptive
// throttle. Business-level errors never do.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") ||
		// binance -1001: internal error, typically the request never completed
		strings.Contains(msg, "code=-1001")
}
