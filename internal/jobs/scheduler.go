package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StreamTrimmer caps the auth event stream. *events.StreamPublisher
// satisfies it.
type StreamTrimmer interface {
	Trim(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron     *cron.Cron
	trimmer  StreamTrimmer
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewScheduler uses six-field cron specs (with seconds).
func NewScheduler(trimmer StreamTrimmer, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		trimmer:  trimmer,
		schedule: schedule,
		timeout:  30 * time.Second,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.trimmer == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.trimStream); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("stream trim scheduled")
	return nil
}

// Stop waits up to five seconds for a running trim to finish.
func (s *Scheduler) Stop() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) trimStream() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	removed, err := s.trimmer.Trim(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("trim auth event stream failed")
		return
	}
	s.log.Info().Int64("removed", removed).Msg("auth event stream trimmed")
}
