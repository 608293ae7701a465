package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/counseling-booking/internal"
	"github.com/frahmantamala/counseling-booking/internal/auth"
	authpostgres "github.com/frahmantamala/counseling-booking/internal/auth/postgres"
	"github.com/frahmantamala/counseling-booking/internal/booking"
	bookingpostgres "github.com/frahmantamala/counseling-booking/internal/booking/postgres"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/internal/paymentgateway"
	gatewaypostgres "github.com/frahmantamala/counseling-booking/internal/paymentgateway/postgres"
	"github.com/frahmantamala/counseling-booking/internal/settlement"
	"github.com/frahmantamala/counseling-booking/internal/therapist"
	therapistpostgres "github.com/frahmantamala/counseling-booking/internal/therapist/postgres"
	"github.com/frahmantamala/counseling-booking/internal/transport/rest"
	"github.com/frahmantamala/counseling-booking/internal/user"
	userpostgres "github.com/frahmantamala/counseling-booking/internal/user/postgres"
	"github.com/frahmantamala/counseling-booking/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	GormDB *gorm.DB
	Router *chi.Mux
	Logger *slog.Logger

	AuthHandler      *auth.Handler
	UserHandler      *user.Handler
	TherapistHandler *therapist.Handler
	BookingHandler   *booking.Handler
	BookingService   *booking.Service
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	// Drop checkout sessions nobody came back for. Paid intents are
	// already persisted; unpaid ones can be restarted or rechecked.
	reapCtx, stopReaper := context.WithCancel(context.Background())
	go runSessionReaper(reapCtx, deps.BookingService, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		stopReaper()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		stopReaper()
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) {
	rest.RegisterAllRoutes(
		deps.Router,
		deps.DB.DB,
		deps.AuthHandler,
		deps.UserHandler,
		deps.TherapistHandler,
		deps.BookingHandler,
		deps.Config.Server.AllowedOrigins,
		deps.Config.Observability.Metrics.Enabled,
		deps.Config.Observability.Metrics.Path,
		deps.Logger,
	)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(lg)

	// Auth
	authRepo := authpostgres.NewRepository(gormDB)
	tokenGen := auth.NewJWTTokenGenerator(config.Security.AccessTokenSecret, config.Security.RefreshTokenSecret)
	tokenGen.AccessTokenTTL = config.Security.AccessTokenDuration
	tokenGen.RefreshTokenTTL = config.Security.RefreshTokenDuration
	authService := auth.NewService(authRepo, tokenGen, config.Security.BCryptCost)
	authHandler := auth.NewHandler(authService)

	// Client accounts
	userRepo := userpostgres.NewUserRepository(gormDB)
	userService := user.NewService(userRepo, authService)
	userHandler := user.NewHandler(userService)

	// Therapist catalog
	therapistRepo := therapistpostgres.NewTherapistRepository(gormDB)
	therapistService := therapist.NewService(therapistRepo, lg)
	therapistHandler := therapist.NewHandler(therapistService)

	// Payment gateway
	mappingRepo := gatewaypostgres.NewMappingRepository(gormDB)
	gatewayClient := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:        config.Payment.GatewayBaseURL,
		ClientID:       config.Payment.ClientID,
		ClientSecret:   config.Payment.ClientSecret,
		RequestTimeout: config.Payment.RequestTimeout,
		SandboxMode:    config.Payment.SandboxMode,
	}, mappingRepo, lg)

	// Booking
	appointmentRepo := bookingpostgres.NewAppointmentRepository(gormDB)
	engine := booking.NewEngine(appointmentRepo, eventBus, lg)
	bookingService := booking.NewService(
		appointmentRepo,
		gatewayClient,
		therapistRepo,
		engine,
		eventBus,
		settlement.Config{
			Interval:    config.Payment.PollInterval,
			MaxAttempts: config.Payment.PollMaxAttempts,
			Deadline:    config.Payment.PollDeadline,
		},
		config.Payment.WidgetScriptTimeout,
		lg,
	)
	bookingHandler := booking.NewHandler(bookingService)

	booking.NewEventHandler(nil, lg).RegisterEventHandlers(eventBus)

	return &Dependencies{
		Config:           config,
		Logger:           lg,
		DB:               db,
		GormDB:           gormDB,
		Router:           chi.NewRouter(),
		AuthHandler:      authHandler,
		UserHandler:      userHandler,
		TherapistHandler: therapistHandler,
		BookingHandler:   bookingHandler,
		BookingService:   bookingService,
	}, nil
}

func runSessionReaper(ctx context.Context, svc *booking.Service, lg *slog.Logger) {
	const maxSessionAge = 30 * time.Minute

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.ReapSessions(maxSessionAge)
		}
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the already-pooled pgx connection so both
// share one pool.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn: db.DB,
	}), &gorm.Config{
		TranslateError: true,
	})
}
