package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string  `env:"LISTEN_ADDR, default=0.0.0.0:6850"`
	DBPath     string  `env:"DB_PATH, default=loom.db"`
	Hostname   string  `env:"HOSTNAME, required"`
	Dev        bool    `env:"DEV, default=false"`
	Secrets    Secrets `env:",prefix=SECRETS_"`
}

type Secrets struct {
	Provider string      `env:"PROVIDER, default=sqlite"`
	Vault    VaultConfig `env:",prefix=VAULT_"`
}

type VaultConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=loom"`
}

type Pipelines struct {
	// platform tag baked into cache keys; caches never cross platforms
	Platform        string `env:"PLATFORM, default=ubuntu"`
	WorkflowTimeout string `env:"WORKFLOW_TIMEOUT, default=5m"`
	LogDir          string `env:"LOG_DIR, default=/var/log/loom"`
	CacheMaxAge     string `env:"CACHE_MAX_AGE, default=168h"`
	QueueSize       int    `env:"QUEUE_SIZE, default=100"`
	Workers         int    `env:"WORKERS, default=2"`
}

type Config struct {
	Server    Server    `env:",prefix=LOOM_SERVER_"`
	Pipelines Pipelines `env:",prefix=LOOM_PIPELINES_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
