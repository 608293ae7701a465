package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/counseling-booking/internal/booking"
	bookingpostgres "github.com/frahmantamala/counseling-booking/internal/booking/postgres"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/internal/paymentgateway"
	gatewaypostgres "github.com/frahmantamala/counseling-booking/internal/paymentgateway/postgres"
	"github.com/frahmantamala/counseling-booking/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers: the settlement sweep and the event bus worker.`,
}

// Settlement sweep command
var settlementWorkerCmd = &cobra.Command{
	Use:   "settlement",
	Short: "Start the settlement sweep worker",
	Long: `Periodically re-checks appointments whose payment intent never reached a
terminal state while the client was connected, and reconciles any that the
processor has since settled.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSettlementWorker()
	},
}

// Event Bus worker command
var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start event bus worker",
	Long:  `Start the event bus with the booking notification handlers registered`,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	sweepInterval time.Duration
	sweepBatch    int
	sweepMinAge   time.Duration
)

func startSettlementWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init orm: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(lg)
	booking.NewEventHandler(nil, lg).RegisterEventHandlers(eventBus)

	repo := bookingpostgres.NewAppointmentRepository(gormDB)
	mappingRepo := gatewaypostgres.NewMappingRepository(gormDB)
	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:        config.Payment.GatewayBaseURL,
		ClientID:       config.Payment.ClientID,
		ClientSecret:   config.Payment.ClientSecret,
		RequestTimeout: config.Payment.RequestTimeout,
		SandboxMode:    config.Payment.SandboxMode,
	}, mappingRepo, lg)
	engine := booking.NewEngine(repo, eventBus, lg)

	sweep := booking.NewSettlementSweep(repo, gateway, engine, booking.SweepConfig{
		Interval: sweepInterval,
		Batch:    sweepBatch,
		MinAge:   sweepMinAge,
	}, lg)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sweep.Run(ctx)
		close(done)
	}()

	lg.Info("settlement sweep worker running. Press Ctrl+C to stop.")

	sig := <-sigChan
	lg.Info("received signal, shutting down settlement worker", "signal", sig)
	cancel()

	select {
	case <-done:
		lg.Info("settlement sweep shutdown complete")
	case <-time.After(30 * time.Second):
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

func startEventWorker() {
	_, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	booking.NewEventHandler(nil, lg).RegisterEventHandlers(eventBus)

	lg.Info("event bus worker started. Waiting for events...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down event bus", "signal", sig)
	lg.Info("event bus shutdown complete")
}

func init() {
	settlementWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", time.Minute, "How often to sweep for unresolved settlements")
	settlementWorkerCmd.Flags().IntVar(&sweepBatch, "batch", 50, "Maximum appointments checked per sweep")
	settlementWorkerCmd.Flags().DurationVar(&sweepMinAge, "min-age", 2*time.Minute, "Only sweep appointments older than this")

	workerCmd.AddCommand(settlementWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
