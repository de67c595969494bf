package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"olx-watcher/models"
)

const defaultBaseURL = "https://www.olx.pt/coracaodejesus/?search%5Bdist%5D=15"

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Source    SourceConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	Export    ExportConfig
	Log       LogConfig
}

type StoreConfig struct {
	Driver   string
	FilePath string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DB       string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SourceConfig struct {
	BaseURL         string
	Category        string
	Search          string
	MaxPages        int
	PageLoadTimeout time.Duration
	PageDelay       time.Duration
	ChromeBin       string
	UserAgent       string
}

type SchedulerConfig struct {
	Interval    time.Duration
	RunTimeout  time.Duration
	HistorySize int
}

type ServerConfig struct {
	Addr       string
	JWTSecret  string
	CORSOrigin string
}

type ExportConfig struct {
	Dir string
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the .env file (if any), an optional YAML file, and the
// environment. Keys map to env vars by upper-casing and replacing dots, so
// postgres.host is read from POSTGRES_HOST.
func Load(configFile string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "config: read %s", configFile)
		}
	}

	cfg := &Config{
		Store: StoreConfig{
			Driver:   strings.ToLower(v.GetString("store.driver")),
			FilePath: v.GetString("store.file_path"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetString("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			DB:       v.GetString("postgres.db"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Source: SourceConfig{
			BaseURL:         v.GetString("source.base_url"),
			Category:        v.GetString("source.category"),
			Search:          v.GetString("source.search"),
			MaxPages:        v.GetInt("source.max_pages"),
			PageLoadTimeout: v.GetDuration("source.page_load_timeout"),
			PageDelay:       v.GetDuration("source.page_delay"),
			ChromeBin:       v.GetString("source.chrome_bin"),
			UserAgent:       v.GetString("source.user_agent"),
		},
		Scheduler: SchedulerConfig{
			Interval:    v.GetDuration("scheduler.interval"),
			RunTimeout:  v.GetDuration("scheduler.run_timeout"),
			HistorySize: v.GetInt("scheduler.history_size"),
		},
		Server: ServerConfig{
			Addr:       v.GetString("server.addr"),
			JWTSecret:  v.GetString("server.jwt_secret"),
			CORSOrigin: v.GetString("server.cors_origin"),
		},
		Export: ExportConfig{
			Dir: v.GetString("export.dir"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.file_path", "./data/listings.json")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "scraper")
	v.SetDefault("postgres.password", "scraper123")
	v.SetDefault("postgres.db", "listings_db")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("source.base_url", defaultBaseURL)
	v.SetDefault("source.category", "")
	v.SetDefault("source.search", "")
	v.SetDefault("source.max_pages", 3)
	v.SetDefault("source.page_load_timeout", 20*time.Second)
	v.SetDefault("source.page_delay", 3*time.Second)
	v.SetDefault("source.chrome_bin", "")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.run_timeout", 5*time.Minute)
	v.SetDefault("scheduler.history_size", 50)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origin", "http://localhost:3000")

	v.SetDefault("export.dir", "./exports")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "file", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "file" && c.Store.FilePath == "" {
		return eris.New("config: store.file_path is required for the file driver")
	}
	if c.Source.BaseURL == "" {
		return eris.New("config: source.base_url is required")
	}
	if c.Source.MaxPages <= 0 {
		return eris.Errorf("config: source.max_pages must be positive, got %d", c.Source.MaxPages)
	}
	if c.Source.PageLoadTimeout <= 0 {
		return eris.New("config: source.page_load_timeout must be positive")
	}
	if c.Source.PageDelay < 0 {
		return eris.New("config: source.page_delay must not be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return eris.New("config: scheduler.interval must be positive")
	}
	if c.Scheduler.RunTimeout < 0 {
		return eris.New("config: scheduler.run_timeout must not be negative")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.Postgres.Host +
		" port=" + c.Postgres.Port +
		" user=" + c.Postgres.User +
		" password=" + c.Postgres.Password +
		" dbname=" + c.Postgres.DB +
		" sslmode=" + c.Postgres.SSLMode
}

// Query builds the fetcher's source query.
func (s SourceConfig) Query() models.SourceQuery {
	return models.SourceQuery{
		BaseURL:         s.BaseURL,
		Category:        s.Category,
		Search:          s.Search,
		MaxPages:        s.MaxPages,
		PageLoadTimeout: s.PageLoadTimeout,
	}
}
