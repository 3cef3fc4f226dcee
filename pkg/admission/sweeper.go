package admission

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically cancels reservations whose TTL already excludes them
// from the admission count. The count stays correct without it; sweeping
// just keeps the table readable.
type Sweeper struct {
	controller *Controller
	cron       *cron.Cron
	logger     *logrus.Entry
}

func NewSweeper(controller *Controller) *Sweeper {
	return &Sweeper{
		controller: controller,
		cron:       cron.New(),
		logger:     logrus.WithField("component", "admission_sweeper"),
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	expiry := now.Add(-s.controller.opts.ReservationTTL)

	res, err := s.controller.db.ExecContext(ctx, querySweepReservation, now, expiry)
	if err != nil {
		s.logger.WithError(err).Error("reservation sweep failed")
		return
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		sweptReservationsMetrics.Add(float64(n))
		s.logger.Infof("swept %d expired reservations", n)
	}
}
