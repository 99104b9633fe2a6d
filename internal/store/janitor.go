package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor periodically evicts idle sessions.
type Janitor struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	cron  *cron.Cron
}

// NewJanitor schedules a sweep on spec (a cron expression such as "@every 5m").
func NewJanitor(st Store, ttl time.Duration, spec string) (*Janitor, error) {
	j := &Janitor{store: st, ttl: ttl, now: time.Now, cron: cron.New()}
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, err
	}
	return j, nil
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() {
	n, err := j.store.Sweep(context.Background(), j.now().Add(-j.ttl))
	if err != nil {
		log.Warn().Err(err).Msg("session sweep")
		return
	}
	if n > 0 {
		log.Info().Int("evicted", n).Int("live", j.store.Len()).Msg("idle sessions evicted")
	}
}

// Start begins the schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
