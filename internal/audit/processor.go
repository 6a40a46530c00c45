package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authsession/internal/events"
)

type Options struct {
	// FailureThreshold failed logins for one email inside FailureWindow
	// raise a warning. Zero disables the check.
	FailureThreshold int
	FailureWindow    time.Duration
}

// Processor turns auth stream entries into audit log lines.
type Processor struct {
	logger zerolog.Logger
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	failures  map[string][]time.Time
	lastSweep time.Time
}

func NewProcessor(logger zerolog.Logger, opts Options) *Processor {
	return &Processor{
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		failures: make(map[string][]time.Time),
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	evt, err := events.FromValues(msg.Values)
	if err != nil {
		if errors.Is(err, events.ErrMissingType) {
			p.logger.Warn().Str("message_id", msg.ID).Msg("dropping audit entry without type")
			return nil
		}
		return err
	}

	p.logger.Info().
		Str("message_id", msg.ID).
		Str("event", string(evt.Type)).
		Str("user_id", evt.UserID).
		Str("email", evt.Email).
		Str("ip", evt.IP).
		Time("at", evt.At).
		Msg("audit")

	switch evt.Type {
	case events.UserLoginFailed:
		if count := p.recordFailure(evt); count > 0 {
			p.logger.Warn().
				Str("email", evt.Email).
				Str("ip", evt.IP).
				Int("failures", count).
				Dur("window", p.opts.FailureWindow).
				Msg("repeated login failures")
		}
	case events.UserLogin, events.UserPasswordChanged:
		p.resetFailures(evt.Email)
	}
	return nil
}

// recordFailure returns the failure count once it reaches the threshold,
// zero otherwise.
func (p *Processor) recordFailure(evt events.Event) int {
	if p.opts.FailureThreshold <= 0 || evt.Email == "" {
		return 0
	}

	at := evt.At
	if at.IsZero() {
		at = p.now()
	}
	cutoff := at.Add(-p.opts.FailureWindow)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastSweep.IsZero() || at.Sub(p.lastSweep) >= p.opts.FailureWindow {
		p.sweepLocked(cutoff)
		p.lastSweep = at
	}

	kept := p.failures[evt.Email][:0]
	for _, ts := range p.failures[evt.Email] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	p.failures[evt.Email] = kept

	if len(kept) >= p.opts.FailureThreshold {
		return len(kept)
	}
	return 0
}

// sweepLocked drops every email with no failure after cutoff.
func (p *Processor) sweepLocked(cutoff time.Time) {
	for email, stamps := range p.failures {
		stale := true
		for _, ts := range stamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(p.failures, email)
		}
	}
}

func (p *Processor) tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failures)
}

func (p *Processor) resetFailures(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, email)
}
