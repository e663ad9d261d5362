package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/expense-claims/api"
	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	authPostgres "github.com/frahmantamala/expense-claims/internal/auth/postgres"
	"github.com/frahmantamala/expense-claims/internal/category"
	categoryPostgres "github.com/frahmantamala/expense-claims/internal/category/postgres"
	categoryDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/category"
	expenseDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/expense"
	paymentDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/payment"
	userDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/user"
	"github.com/frahmantamala/expense-claims/internal/core/events"
	"github.com/frahmantamala/expense-claims/internal/expense"
	expensePostgres "github.com/frahmantamala/expense-claims/internal/expense/postgres"
	"github.com/frahmantamala/expense-claims/internal/lock"
	"github.com/frahmantamala/expense-claims/internal/payment"
	paymentPostgres "github.com/frahmantamala/expense-claims/internal/payment/postgres"
	"github.com/frahmantamala/expense-claims/internal/storage"
	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/frahmantamala/expense-claims/internal/transport/middleware"
	"github.com/frahmantamala/expense-claims/internal/transport/rest"
	"github.com/frahmantamala/expense-claims/internal/user"
	userPostgres "github.com/frahmantamala/expense-claims/internal/user/postgres"
	"github.com/frahmantamala/expense-claims/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the claims backend: REST API, payment workers and receipt uploads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(appConfig)
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Gorm      *gorm.DB
	Redis     *redis.Client
	Bus       *events.EventBus
	Processor *payment.Processor
	Receipts  *storage.GCSUploader
	Router    *chi.Mux
	Logger    *slog.Logger
}

func startHTTPServer(cfg *internal.Config) error {
	deps, err := initializeDependencies(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	deps.Close()
	deps.Logger.Info("Server stopped")
	return runErr
}

// Close drains in-flight events before stopping the payment workers so
// that approvals accepted before shutdown still reach the queue.
func (d *Dependencies) Close() {
	d.Bus.Close()
	d.Processor.Shutdown()
	if d.Receipts != nil {
		if err := d.Receipts.Close(); err != nil {
			d.Logger.Error("Receipt storage close error", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func initializeDependencies(ctx context.Context, cfg *internal.Config) (*Dependencies, error) {
	if cfg.Security.AccessTokenSecret == "" || cfg.Security.RefreshTokenSecret == "" {
		return nil, errors.New("security.access_token_secret and security.refresh_token_secret are required")
	}
	lg := logger.LoggerWrapper()

	doc, err := api.Load(ctx)
	if err != nil {
		return nil, err
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gdb, err := openGorm(cfg.Database, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	deps := &Dependencies{Config: cfg, DB: db, Gorm: gdb, Logger: lg}

	locker, err := initLocker(ctx, cfg.Redis, deps)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	users := user.NewService(userPostgres.NewUserRepository(gdb), cfg.Security.BCryptCost, lg)
	categories := category.NewService(categoryPostgres.NewCategoryRepository(gdb), lg)
	tokens := auth.NewJWTTokenGenerator(
		cfg.Security.AccessTokenSecret,
		cfg.Security.RefreshTokenSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	)
	authService := auth.NewService(authPostgres.NewRepository(gdb), tokens, cfg.Security.BCryptCost, lg)

	rules := expense.NewRules(cfg.Policy)
	lifecycle := expense.NewLifecycle(auth.NewPolicy(rules.Thresholds()))
	deps.Bus = events.NewEventBus(lg)
	claimsRepo := expensePostgres.NewExpenseRepository(gdb)
	claims := expense.NewLocalBackend(claimsRepo, categories, rules, lifecycle, locker, deps.Bus, lg)

	paymentRepo := paymentPostgres.NewPaymentRepository(gdb)
	deps.Processor = payment.NewProcessor(payment.Config{
		MaxWorkers:   cfg.Payment.MaxWorkers,
		JobQueueSize: cfg.Payment.JobQueueSize,
		Timeout:      cfg.Payment.PaymentTimeout,
	}, paymentRepo, claimsRepo, newGateway(cfg.Payment, lg), lg)
	deps.Bus.Subscribe(events.EventTypeClaimApproved, deps.Processor.HandleClaimEvent)
	deps.Bus.Subscribe(events.EventTypePaymentRetryRequested, deps.Processor.HandleClaimEvent)
	deps.Processor.Start()
	if _, err := deps.Processor.Recover(ctx); err != nil {
		deps.Close()
		return nil, err
	}

	base := transport.NewBaseHandler(lg)
	checks := map[string]rest.Pinger{"database": db}
	if deps.Redis != nil {
		rdb := deps.Redis
		checks["redis"] = rest.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	handlers := rest.Handlers{
		Health:   rest.NewHealthHandler(base, checks),
		Auth:     auth.NewHandler(authService, lg),
		User:     user.NewHandler(base, users),
		Category: category.NewHandler(base, categories),
		Expense:  expense.NewHandler(base, claims, rules),
		Payment:  payment.NewHandler(base, paymentRepo, claims),
	}

	if cfg.Storage.Provider == "gcs" {
		client, err := storage.NewGCSClient(ctx, cfg.Storage.CredentialsJSON)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		deps.Receipts = storage.NewGCSUploader(client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, lg)
		uploader := storage.WithGuard(deps.Receipts, storage.NewGuard(cfg.Receipts))
		handlers.Receipts = storage.NewHandler(base, uploader, cfg.Receipts.MaxSizeBytes)
	}

	validate, err := middleware.OpenAPI(base, doc)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Router = rest.NewRouter(base, handlers, rest.Options{
		AllowedOrigins: splitOrigins(cfg.Server.AllowedOrigins),
		Validate:       validate,
	})
	return deps, nil
}

// initDB opens the shared connection pool. The sqlite driver is registered
// by gorm's sqlite dialector.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	driver := "pgx"
	if cfg.Driver == "sqlite" {
		driver = "sqlite3"
	}

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// every connection to an in-memory database is a new database
		dbConn.SetMaxOpenConns(1)
	} else {
		dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
		dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
		dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

// openGorm shares the sqlx pool with the repositories. Postgres schemas come
// from goose migrations; sqlite databases are created from the models.
func openGorm(cfg internal.DatabaseConfig, db *sqlx.DB) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var dialector gorm.Dialector = postgres.New(postgres.Config{Conn: db.DB})
	if cfg.Driver == "sqlite" {
		dialector = sqlite.New(sqlite.Config{Conn: db.DB})
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	if cfg.Driver == "sqlite" {
		if err := gdb.AutoMigrate(
			&userDatamodel.User{},
			&categoryDatamodel.ExpenseCategory{},
			&expenseDatamodel.Expense{},
			&paymentDatamodel.Payment{},
		); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}
	return gdb, nil
}

// initLocker uses Redis when configured so that replicas share claim locks.
func initLocker(ctx context.Context, cfg internal.RedisConfig, deps *Dependencies) (lock.Locker, error) {
	if cfg.Addr == "" {
		deps.Logger.Info("redis not configured, using in-process claim locks")
		return lock.NewMemoryLocker(), nil
	}
	rdb, err := lock.Connect(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Redis = rdb
	return lock.NewRedisLocker(rdb, cfg.LockTTL), nil
}

func newGateway(cfg internal.PaymentConfig, lg *slog.Logger) payment.Gateway {
	if cfg.GatewayURL != "" {
		return payment.NewHTTPGateway(cfg.GatewayURL, cfg.APIKey, cfg.PaymentTimeout, lg)
	}
	lg.Warn("payment gateway not configured, using simulated gateway", "failure_rate", cfg.FailureRate)
	return payment.NewSimulatedGateway(cfg.FailureRate, 3*time.Second)
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
