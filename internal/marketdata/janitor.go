package marketdata

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor truncates the cache on a cron schedule so stale daily bars (and
// any symbols delisted since they were cached) get refetched fresh. With an
// empty schedule the janitor is inert.
type Janitor struct {
	cache *Cache
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewJanitor creates a janitor for the given cache.
func NewJanitor(cache *Cache, log zerolog.Logger) *Janitor {
	return &Janitor{
		cache: cache,
		cron:  cron.New(),
		log:   log.With().Str("component", "cache_janitor").Logger(),
	}
}

// Start registers the wipe job and starts the scheduler. A bad cron spec is
// an error; an empty one is a no-op.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		j.log.Debug().Msg("No wipe schedule configured, janitor disabled")
		return nil
	}
	_, err := j.cron.AddFunc(schedule, func() {
		if err := j.cache.Wipe(); err != nil {
			j.log.Error().Err(err).Msg("Scheduled cache wipe failed")
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info().Str("schedule", schedule).Msg("Cache janitor started")
	return nil
}

// Stop halts the scheduler, waiting for an in-flight wipe to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
