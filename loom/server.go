package loom

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"

	"loomci.dev/loom/config"
	"loomci.dev/loom/db"
	"loomci.dev/loom/engines/docker"
	"loomci.dev/loom/log"
	"loomci.dev/loom/models"
	"loomci.dev/loom/notifier"
	"loomci.dev/loom/queue"
	"loomci.dev/loom/secrets"
)

type Loom struct {
	db      *db.DB
	l       *slog.Logger
	n       *notifier.Notifier
	eng     models.Engine
	jq      *queue.Queue
	cfg     *config.Config
	secrets secrets.Manager
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the loom pipeline runner",
		Action: Run,
		Description: `
Environment variables:
	LOOM_SERVER_HOSTNAME          (required)
	LOOM_SERVER_LISTEN_ADDR       (default: 0.0.0.0:6850)
	LOOM_SERVER_DB_PATH           (default: loom.db)
	LOOM_SERVER_DEV               (default: false)
	LOOM_SERVER_SECRETS_PROVIDER  (default: sqlite)
	LOOM_PIPELINES_PLATFORM       (default: ubuntu)
	LOOM_PIPELINES_WORKFLOW_TIMEOUT (default: 5m)
	LOOM_PIPELINES_LOG_DIR        (default: /var/log/loom)
	LOOM_PIPELINES_CACHE_MAX_AGE  (default: 168h)
`,
	}
}

func Run(ctx context.Context, _ *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	sm, err := newSecretsManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup secrets manager: %w", err)
	}
	if stopper, ok := sm.(secrets.Stopper); ok {
		defer stopper.Stop()
	}

	eng, err := docker.New(ctx, cfg, d)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Pipelines.LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers)

	server := Loom{
		db:      d,
		l:       logger,
		n:       &n,
		eng:     eng,
		jq:      jq,
		cfg:     cfg,
		secrets: sm,
	}

	// starts the job queue workers in the background
	jq.Start()
	defer jq.Stop()

	go server.pruneCaches(ctx, eng)

	logger.Info("starting loom server", "address", cfg.Server.ListenAddr)
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, server.Router()))

	return nil
}

func (s *Loom) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Post("/pipelines", s.NewPipeline)
	mux.Get("/pipelines", s.Pipelines)
	mux.Get("/pipelines/{id}", s.Pipeline)
	mux.HandleFunc("/events", s.Events)
	mux.Get("/logs/{id}/{workflow}", s.Logs)

	return mux
}

func newSecretsManager(ctx context.Context, cfg *config.Config) (secrets.Manager, error) {
	switch cfg.Server.Secrets.Provider {
	case "sqlite":
		return secrets.NewSQLiteManager(cfg.Server.DBPath)
	case "vault":
		vc := cfg.Server.Secrets.Vault
		return secrets.NewVaultManager(
			vc.Addr,
			vc.RoleID,
			vc.SecretID,
			log.FromContext(ctx),
			secrets.WithMountPath(vc.Mount),
		)
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Server.Secrets.Provider)
	}
}

// pruneCaches periodically removes cache volumes that no run has used
// within the configured age.
func (s *Loom) pruneCaches(ctx context.Context, eng *docker.Engine) {
	maxAge, err := time.ParseDuration(s.cfg.Pipelines.CacheMaxAge)
	if err != nil {
		s.l.Error("failed to parse cache max age, cache gc disabled", "error", err)
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.PruneCaches(ctx, maxAge); err != nil {
				s.l.Error("cache gc failed", "error", err)
			}
		}
	}
}
