package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Cleaner sweeps expired records.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Reaper runs a Cleaner on a fixed interval. Sweeps only look at each
// record's ExpiresAt, so they are safe alongside live negotiation.
type Reaper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   logrus.FieldLogger
}

func NewReaper(cleaner Cleaner, interval time.Duration, logger logrus.FieldLogger) *Reaper {
	return &Reaper{cleaner: cleaner, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.WithField("interval", r.interval.String()).Info("Session reaper started")
	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Session reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs a single cleanup pass and logs its outcome.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	removed, err := r.cleaner.CleanupExpired(ctx)
	if err != nil {
		r.logger.WithError(err).WithField("removed", removed).Error("Error cleaning up expired sessions")
		return removed, err
	}
	r.logger.WithField("removed", removed).Debug("Cleaned up expired sessions")
	return removed, nil
}
