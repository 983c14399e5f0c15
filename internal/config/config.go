package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	AgentAddr     string `env:"AGENT_ADDR" envDefault:":8087"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	EbayBaseURL string `env:"EBAY_BASE_URL,notEmpty"`
	EbayToken   string `env:"EBAY_TOKEN"`
	EtsyBaseURL string `env:"ETSY_BASE_URL,notEmpty"`
	EtsyToken   string `env:"ETSY_TOKEN"`

	GlobalPermits int `env:"GLOBAL_PERMITS" envDefault:"150"`
	TenantPermits int `env:"TENANT_PERMITS" envDefault:"30"`

	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"600s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT" envDefault:"60s"`
	WorkerIdleTTL time.Duration `env:"WORKER_IDLE_TTL" envDefault:"2h"`
	WorkerMaxAge  time.Duration `env:"WORKER_MAX_AGE" envDefault:"24h"`

	// janitor
	JanitorTick     time.Duration `env:"JANITOR_TICK" envDefault:"15s"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	PendingTimeout  time.Duration `env:"PENDING_TIMEOUT" envDefault:"24h"`
	RunningTimeout  time.Duration `env:"RUNNING_TIMEOUT" envDefault:"2h"`
	RetentionDays   int           `env:"RETENTION_DAYS" envDefault:"30"`
	MigrationsDir   string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// retry backoff: delay = BackoffBase^attempt seconds, capped
	BackoffBase   int `env:"BACKOFF_BASE" envDefault:"2"`
	BackoffCapSec int `env:"BACKOFF_CAP_SEC" envDefault:"900"`
}

func (c Config) BackoffCapDuration() time.Duration {
	return time.Duration(c.BackoffCapSec) * time.Second
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
