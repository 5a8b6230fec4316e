// Package retention runs the periodic cleanup of abandoned call rooms.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const sweepTimeout = 30 * time.Second

// StaleEnder ends rooms nobody joined in time.
type StaleEnder interface {
	EndStale(ctx context.Context) (int, error)
}

// Sweeper ends stale waiting rooms on a cron schedule. Ending a room also
// starts the expiry of its signal logs.
type Sweeper struct {
	quartz *cron.Cron
	ender  StaleEnder
}

func NewSweeper(ender StaleEnder, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		quartz: cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger))),
		ender:  ender,
	}
	if _, err := s.quartz.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.quartz.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.quartz.Stop().Done()
}

// Sweep runs one cleanup pass.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.ender.EndStale(ctx)
	if err != nil {
		log.Error().Err(err).Int("ended", n).Msg("Stale call sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("ended", n).Dur("took", time.Since(start)).Msg("Ended stale calls")
	}
}
