package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	gatewaytypes "github.com/frahmantamala/counseling-booking/internal/core/datamodel/paymentgateway"
)

var settlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_settlement_outcomes_total",
	Help: "Terminal settlement poll outcomes",
}, []string{"outcome"})

type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
)

// Result is the single terminal report of one polling run.
type Result struct {
	Outcome Outcome
	// LastStatus is the most recent status observed from the processor.
	// For OutcomeFailed it carries the failure sentinel; for
	// OutcomeTimedOut it is whatever non-terminal status was last seen.
	LastStatus gatewaytypes.IntentStatus
	Attempts   int
}

// StatusReader is the slice of the gateway the poller depends on.
type StatusReader interface {
	GetIntentStatus(ctx context.Context, intentID string) (gatewaytypes.IntentStatus, error)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MaxAttempts: 12,
		Deadline:    60 * time.Second,
	}
}

// Poller watches one payment intent until the processor reports a terminal
// status or the budget runs out. A run emits exactly one outcome: the first
// check is immediate, later checks happen on a fixed interval, and one
// timer covers both the next check and the wall-clock deadline so the two
// cannot drift apart.
type Poller struct {
	reader StatusReader
	cfg    Config
	logger *slog.Logger
}

func NewPoller(reader StatusReader, cfg Config, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 12
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 60 * time.Second
	}
	return &Poller{reader: reader, cfg: cfg, logger: logger}
}

// Run blocks until a terminal outcome or context cancellation. On
// cancellation it returns ctx.Err() and no outcome is reported; the caller
// discards the run. Gateway read errors consume attempts, and exhausting
// the budget on errors reports TIMED_OUT, not FAILED, so the caller can
// offer "check again" rather than "retry payment".
func (p *Poller) Run(ctx context.Context, intentID string) (Result, error) {
	deadline := time.Now().Add(p.cfg.Deadline)
	state := Result{}

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		state.Attempts++

		checkCtx, cancel := context.WithDeadline(ctx, deadline)
		status, err := p.reader.GetIntentStatus(checkCtx, intentID)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			p.logger.Warn("settlement status check failed",
				"intent_id", intentID,
				"attempt", state.Attempts,
				"error", err)
		} else {
			state.LastStatus = status
			p.logger.Debug("settlement status observed",
				"intent_id", intentID,
				"attempt", state.Attempts,
				"status", status)

			switch status {
			case gatewaytypes.IntentStatusSucceeded:
				state.Outcome = OutcomeSucceeded
				return p.report(intentID, state), nil
			case gatewaytypes.IntentStatusFailed, gatewaytypes.IntentStatusCancelled:
				state.Outcome = OutcomeFailed
				return p.report(intentID, state), nil
			}
		}

		if state.Attempts >= p.cfg.MaxAttempts {
			state.Outcome = OutcomeTimedOut
			return p.report(intentID, state), nil
		}

		wait := p.cfg.Interval
		if remaining := time.Until(deadline); remaining <= 0 {
			state.Outcome = OutcomeTimedOut
			return p.report(intentID, state), nil
		} else if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			state.Outcome = OutcomeTimedOut
			return p.report(intentID, state), nil
		}
	}
}

func (p *Poller) report(intentID string, r Result) Result {
	settlementOutcomes.WithLabelValues(string(r.Outcome)).Inc()
	p.logger.Info("settlement polling finished",
		"intent_id", intentID,
		"outcome", r.Outcome,
		"attempts", r.Attempts,
		"last_status", r.LastStatus)
	return r
}
