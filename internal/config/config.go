package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	Log struct {
		Level  string
		Format string
	}

	EncryptionKey string

	Figma struct {
		ClientID     string
		ClientSecret string
		RedirectPath string
		AuthURL      string
		TokenURL     string
		RefreshURL   string
		APIURL       string
		Scopes       []string
	}

	Slack struct {
		APIURL        string
		SigningSecret string
	}

	Auth struct {
		IssuerURL string
		Audience  string
		JWTSecret string
	}

	CORS struct {
		AllowedOrigins []string
		AllowedHeaders []string
	}

	Redis struct {
		URL string
	}

	Ingest struct {
		ProviderTimeout   time.Duration
		SyncInterval      time.Duration
		SyncParallelism   int
		FanoutParallelism int
		DedupBucket       time.Duration
		PendingAuthTTL    time.Duration
		DeliveryTTL       time.Duration
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

// RedirectURL is the absolute OAuth callback registered with the design tool.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Figma.RedirectPath
}

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = getenvDefault("APP_BASE_URL", "http://localhost:8080")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		var missing []string
		if host == "" {
			missing = append(missing, "APP_DB_HOST")
		}
		if name == "" {
			missing = append(missing, "APP_DB_NAME")
		}
		if user == "" {
			missing = append(missing, "APP_DB_USER")
		}
		if password == "" {
			missing = append(missing, "APP_DB_PASSWORD")
		}

		if len(missing) == 0 {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Log.Level = getenvDefault("APP_LOG_LEVEL", "info")
	cfg.Log.Format = getenvDefault("APP_LOG_FORMAT", "json")
	cfg.EncryptionKey = os.Getenv("APP_ENCRYPTION_KEY")

	cfg.Figma.ClientID = os.Getenv("APP_FIGMA_CLIENT_ID")
	cfg.Figma.ClientSecret = os.Getenv("APP_FIGMA_CLIENT_SECRET")
	cfg.Figma.RedirectPath = getenvDefault("APP_FIGMA_REDIRECT_PATH", "/oauth/figma/callback")
	cfg.Figma.AuthURL = getenvDefault("APP_FIGMA_AUTH_URL", "https://www.figma.com/oauth")
	cfg.Figma.TokenURL = getenvDefault("APP_FIGMA_TOKEN_URL", "https://api.figma.com/v1/oauth/token")
	cfg.Figma.RefreshURL = getenvDefault("APP_FIGMA_REFRESH_URL", "https://api.figma.com/v1/oauth/refresh")
	cfg.Figma.APIURL = getenvDefault("APP_FIGMA_API_URL", "https://api.figma.com")
	cfg.Figma.Scopes = getenvList("APP_FIGMA_SCOPES")
	if len(cfg.Figma.Scopes) == 0 {
		cfg.Figma.Scopes = []string{"file_read"}
	}

	cfg.Slack.APIURL = getenvDefault("APP_SLACK_API_URL", "https://slack.com/api/")
	cfg.Slack.SigningSecret = os.Getenv("APP_SLACK_SIGNING_SECRET")

	cfg.Auth.IssuerURL = os.Getenv("APP_AUTH_ISSUER_URL")
	cfg.Auth.Audience = os.Getenv("APP_AUTH_AUDIENCE")
	cfg.Auth.JWTSecret = os.Getenv("APP_AUTH_JWT_SECRET")

	cfg.CORS.AllowedOrigins = getenvList("APP_CORS_ALLOWED_ORIGINS")
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	cfg.CORS.AllowedHeaders = getenvList("APP_CORS_ALLOWED_HEADERS")
	if len(cfg.CORS.AllowedHeaders) == 0 {
		cfg.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"}
	}

	cfg.Redis.URL = os.Getenv("APP_REDIS_URL")

	var err error
	if cfg.Ingest.ProviderTimeout, err = getenvDuration("APP_PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Ingest.SyncInterval, err = getenvDuration("APP_SYNC_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Ingest.DedupBucket, err = getenvDuration("APP_DEDUP_BUCKET", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Ingest.PendingAuthTTL, err = getenvDuration("APP_PENDING_AUTH_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Ingest.DeliveryTTL, err = getenvDuration("APP_DELIVERY_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Ingest.SyncParallelism, err = getenvInt("APP_SYNC_PARALLELISM", 4); err != nil {
		return nil, err
	}
	if cfg.Ingest.FanoutParallelism, err = getenvInt("APP_FANOUT_PARALLELISM", 4); err != nil {
		return nil, err
	}

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.DSN == "" {
		return errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if c.EncryptionKey == "" {
		return errors.New("APP_ENCRYPTION_KEY is required")
	}
	if c.Auth.IssuerURL == "" && c.Auth.JWTSecret == "" {
		return errors.New("APP_AUTH_ISSUER_URL or APP_AUTH_JWT_SECRET is required")
	}
	if c.Ingest.DedupBucket <= 0 {
		return fmt.Errorf("APP_DEDUP_BUCKET must be positive (got %s)", c.Ingest.DedupBucket)
	}
	if c.Ingest.PendingAuthTTL <= 0 {
		return fmt.Errorf("APP_PENDING_AUTH_TTL must be positive (got %s)", c.Ingest.PendingAuthTTL)
	}
	if c.Ingest.SyncParallelism < 1 || c.Ingest.FanoutParallelism < 1 {
		return errors.New("APP_SYNC_PARALLELISM and APP_FANOUT_PARALLELISM must be at least 1")
	}
	if !strings.HasPrefix(c.Figma.RedirectPath, "/") {
		return fmt.Errorf("APP_FIGMA_REDIRECT_PATH must start with / (got %q)", c.Figma.RedirectPath)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}
