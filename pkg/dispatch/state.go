package dispatch

import (
	"errors"
	"time"

	"github.com/ocbot/ocbot/pkg/persistence"
)

// throttleSnapshot carries the adaptive multiplier across restarts so a
// freshly started process does not immediately hammer an exchange that was
// throttling us moments ago.
type throttleSnapshot struct {
	Multiplier float64   `json:"multiplier"`
	SavedAt    time.Time `json:"savedAt"`
}

func (s throttleSnapshot) Expiration() time.Duration {
	return 5 * time.Minute
}

func (g *RateGate) SaveTo(store persistence.Store) error {
	g.mu.Lock()
	snap := throttleSnapshot{
		Multiplier: g.multiplier,
		SavedAt:    time.Now(),
	}
	g.mu.Unlock()

	return store.Save(snap)
}

// RestoreFrom applies a previously saved throttle snapshot. Stale or idle
// snapshots are ignored; the breaker itself never survives a restart.
func (g *RateGate) RestoreFrom(store persistence.Store) error {
	var snap throttleSnapshot
	if err := store.Load(&snap); err != nil {
		if errors.Is(err, persistence.ErrPersistenceNotExists) {
			return nil
		}
		return err
	}

	if snap.Multiplier <= 1.0 || time.Since(snap.SavedAt) > snap.Expiration() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if snap.Multiplier > g.opts.MaxMultiplier {
		snap.Multiplier = g.opts.MaxMultiplier
	}

	g.multiplier = snap.Multiplier
	g.applyLimitsLocked()
	g.logger.Infof("restored throttle multiplier %.2fx from snapshot", g.multiplier)
	return nil
}
