package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "booking_settlement_sweep_checks_total",
	Help: "Sweep status checks by result",
}, []string{"result"})

type SweepConfig struct {
	Interval time.Duration
	Batch    int
	MinAge   time.Duration
}

// SettlementSweep is the safety net behind live checkout sessions: it
// periodically re-checks appointments that hold a payment intent but were
// never marked paid, and reconciles the ones the processor has settled.
// Running it alongside live sessions is safe: reconciliation is idempotent
// on the intent id.
type SettlementSweep struct {
	repo    Repository
	gateway GatewayAPI
	engine  *Engine
	cfg     SweepConfig
	logger  *slog.Logger
}

func NewSettlementSweep(repo Repository, gateway GatewayAPI, engine *Engine, cfg SweepConfig, logger *slog.Logger) *SettlementSweep {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 2 * time.Minute
	}
	return &SettlementSweep{
		repo:    repo,
		gateway: gateway,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks until the context is cancelled, sweeping on the configured
// interval. The first sweep happens immediately.
func (s *SettlementSweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SettlementSweep) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.MinAge)
	appts, err := s.repo.ListPendingPaymentWithIntent(cutoff, s.cfg.Batch)
	if err != nil {
		s.logger.Error("sweep: failed to list unresolved appointments", "error", err)
		return
	}
	if len(appts) == 0 {
		return
	}

	s.logger.Info("sweep: checking unresolved settlements", "count", len(appts))

	for _, appt := range appts {
		if ctx.Err() != nil {
			return
		}
		if appt.PaymentIntentID == nil {
			continue
		}
		intentID := *appt.PaymentIntentID

		status, err := s.gateway.GetIntentStatus(ctx, intentID)
		if err != nil {
			sweepChecks.WithLabelValues("error").Inc()
			s.logger.Warn("sweep: status check failed",
				"intent_id", intentID,
				"appointment_id", appt.ID,
				"error", err)
			continue
		}

		switch {
		case status.Succeeded():
			if _, err := s.engine.Reconcile(ctx, intentID, ReconcileTarget{
				ClientID:      appt.ClientID,
				AppointmentID: appt.ID,
			}); err != nil {
				sweepChecks.WithLabelValues("reconcile_error").Inc()
				s.logger.Error("sweep: reconciliation failed",
					"intent_id", intentID,
					"appointment_id", appt.ID,
					"error", err)
				continue
			}
			sweepChecks.WithLabelValues("reconciled").Inc()

		case status.Terminal():
			// Declined or cancelled. The appointment stays unpaid; the
			// client retries payment from the appointment page.
			sweepChecks.WithLabelValues("failed").Inc()
			s.logger.Info("sweep: intent terminally failed",
				"intent_id", intentID,
				"appointment_id", appt.ID,
				"status", status)

		default:
			sweepChecks.WithLabelValues("pending").Inc()
		}
	}
}
