package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Receipts      ReceiptConfig       `mapstructure:"receipts"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=0,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	AccessTokenSecret    string        `mapstructure:"access_token_secret" validate:"omitempty,min=16"`
	RefreshTokenSecret   string        `mapstructure:"refresh_token_secret" validate:"omitempty,min=16"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"omitempty,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"omitempty,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"omitempty,min=4,max=15"`
}

// PolicyConfig carries the business constants of the claim workflow.
// AutoApprovalThreshold and MaxExpenseAmount are in the default currency's
// major unit; every other accepted currency has its own CurrencyLimits entry.
type PolicyConfig struct {
	AutoApprovalThreshold float64                  `mapstructure:"auto_approval_threshold" validate:"gt=0"`
	MaxExpenseAmount      float64                  `mapstructure:"max_expense_amount" validate:"gtfield=AutoApprovalThreshold"`
	MinDescriptionLen     int                      `mapstructure:"min_description_len" validate:"min=1"`
	MaxDescriptionLen     int                      `mapstructure:"max_description_len" validate:"gtefield=MinDescriptionLen"`
	MaxBackdateMonths     int                      `mapstructure:"max_backdate_months" validate:"min=1,max=120"`
	Currencies            []string                 `mapstructure:"currencies" validate:"min=1,dive,len=3"`
	DefaultCurrency       string                   `mapstructure:"default_currency" validate:"len=3"`
	CurrencyLimits        map[string]CurrencyLimit `mapstructure:"currency_limits" validate:"dive"`
}

type CurrencyLimit struct {
	AutoApprovalThreshold float64 `mapstructure:"auto_approval_threshold" validate:"gt=0"`
	MaxExpenseAmount      float64 `mapstructure:"max_expense_amount" validate:"gtfield=AutoApprovalThreshold"`
}

// LimitFor returns the limits of a currency. Keys are matched without
// regard to case since viper lowercases map keys.
func (c PolicyConfig) LimitFor(currency string) (CurrencyLimit, bool) {
	if strings.EqualFold(currency, c.DefaultCurrency) {
		return CurrencyLimit{AutoApprovalThreshold: c.AutoApprovalThreshold, MaxExpenseAmount: c.MaxExpenseAmount}, true
	}
	for code, limit := range c.CurrencyLimits {
		if strings.EqualFold(code, currency) {
			return limit, true
		}
	}
	return CurrencyLimit{}, false
}

type ReceiptConfig struct {
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types" validate:"min=1"`
	MaxSizeBytes     int64    `mapstructure:"max_size_bytes" validate:"gt=0"`
}

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	Provider        string        `mapstructure:"provider" validate:"omitempty,oneof=http gcs"`
	UploadURL       string        `mapstructure:"upload_url" validate:"required_if=Provider http"`
	Bucket          string        `mapstructure:"bucket" validate:"required_if=Provider gcs"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	CredentialsJSON string        `mapstructure:"credentials_json"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url" validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
	MaxWorkers     int           `mapstructure:"max_workers" validate:"min=0"`
	JobQueueSize   int           `mapstructure:"job_queue_size" validate:"min=0"`
	// FailureRate drives the simulated gateway used when GatewayURL is empty.
	FailureRate float64 `mapstructure:"failure_rate" validate:"min=0,max=1"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// DefaultPolicy returns the workflow constants used when none are configured.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		AutoApprovalThreshold: 1000000,
		MaxExpenseAmount:      50000000,
		MinDescriptionLen:     5,
		MaxDescriptionLen:     500,
		MaxBackdateMonths:     12,
		Currencies:            []string{"IDR", "USD"},
		DefaultCurrency:       "IDR",
		CurrencyLimits: map[string]CurrencyLimit{
			"USD": {AutoApprovalThreshold: 60, MaxExpenseAmount: 3000},
		},
	}
}

func DefaultReceipts() ReceiptConfig {
	return ReceiptConfig{
		AllowedMimeTypes: []string{"image/jpeg", "image/png", "application/pdf"},
		MaxSizeBytes:     5 * 1024 * 1024,
	}
}

// ApplyDefaults fills zero-valued sections.
func (c *Config) ApplyDefaults() {
	if c.Policy.AutoApprovalThreshold == 0 {
		c.Policy = DefaultPolicy()
	}
	if len(c.Receipts.AllowedMimeTypes) == 0 {
		c.Receipts = DefaultReceipts()
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 15 * time.Second
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 10
	}
}

// ----------------- ENV -----------------

func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			AccessTokenSecret:    getEnv("JWT_ACCESS_SECRET", ""),
			RefreshTokenSecret:   getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 10),
		},
		Policy: PolicyConfig{
			AutoApprovalThreshold: getEnvAsFloat("POLICY_AUTO_APPROVAL_THRESHOLD", 1000000),
			MaxExpenseAmount:      getEnvAsFloat("POLICY_MAX_EXPENSE_AMOUNT", 50000000),
			MinDescriptionLen:     getEnvAsInt("POLICY_MIN_DESCRIPTION_LEN", 5),
			MaxDescriptionLen:     getEnvAsInt("POLICY_MAX_DESCRIPTION_LEN", 500),
			MaxBackdateMonths:     getEnvAsInt("POLICY_MAX_BACKDATE_MONTHS", 12),
			Currencies:            getEnvAsList("POLICY_CURRENCIES", []string{"IDR", "USD"}),
			DefaultCurrency:       getEnv("POLICY_DEFAULT_CURRENCY", "IDR"),
			CurrencyLimits:        getEnvAsLimits("POLICY_CURRENCY_LIMITS", DefaultPolicy().CurrencyLimits),
		},
		Receipts: ReceiptConfig{
			AllowedMimeTypes: getEnvAsList("RECEIPT_MIME_TYPES", DefaultReceipts().AllowedMimeTypes),
			MaxSizeBytes:     int64(getEnvAsInt("RECEIPT_MAX_SIZE_BYTES", 5*1024*1024)),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_BASE_URL", ""),
			RequestTimeout: getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Provider:        getEnv("STORAGE_PROVIDER", ""),
			UploadURL:       getEnv("STORAGE_UPLOAD_URL", ""),
			Bucket:          getEnv("GCS_BUCKET", ""),
			PublicBaseURL:   getEnv("STORAGE_PUBLIC_BASE_URL", ""),
			CredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),
			Timeout:         getEnvAsDuration("STORAGE_TIMEOUT", 30*time.Second),
		},
		Payment: PaymentConfig{
			GatewayURL:     getEnv("PAYMENT_GATEWAY_URL", ""),
			APIKey:         getEnv("PAYMENT_API_KEY", ""),
			PaymentTimeout: getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
			MaxWorkers:     getEnvAsInt("PAYMENT_MAX_WORKERS", 5),
			JobQueueSize:   getEnvAsInt("PAYMENT_JOB_QUEUE_SIZE", 100),
			FailureRate:    getEnvAsFloat("PAYMENT_FAILURE_RATE", 0.1),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsLimits reads "USD=60:3000,EUR=55:2800" as currency=threshold:max.
// Malformed entries are skipped and fail validation later if required.
func getEnvAsLimits(key string, defaultVal map[string]CurrencyLimit) map[string]CurrencyLimit {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	out := map[string]CurrencyLimit{}
	for _, part := range getEnvAsList(key, nil) {
		code, amounts, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		threshold, ceiling, ok := strings.Cut(amounts, ":")
		if !ok {
			continue
		}
		t, err1 := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
		m, err2 := strconv.ParseFloat(strings.TrimSpace(ceiling), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = CurrencyLimit{AutoApprovalThreshold: t, MaxExpenseAmount: m}
	}
	return out
}

// ----------------- VALIDATION -----------------

var configValidator = validator.New()

func (c *Config) Validate() error {
	var errs []string

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("policy config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PolicyConfig) Validate() error {
	found := false
	for _, cur := range c.Currencies {
		if strings.EqualFold(cur, c.DefaultCurrency) {
			found = true
			continue
		}
		if _, ok := c.LimitFor(cur); !ok {
			return fmt.Errorf("currency %s has no currency_limits entry", cur)
		}
	}
	if !found {
		return fmt.Errorf("default_currency %s is not in currencies", c.DefaultCurrency)
	}
	return nil
}
