// Package app wires configuration into the stores, transport and services
// shared by every command.
package app

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/db"
	"github.com/jmehdipour/mail-outbox/internal/delivery"
	"github.com/jmehdipour/mail-outbox/internal/logger"
	"github.com/jmehdipour/mail-outbox/internal/render"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/service/queue"
	"github.com/jmehdipour/mail-outbox/internal/transport"
	"github.com/jmehdipour/mail-outbox/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrStoreRequired = errors.New("mysql.dsn is required: the in-memory outbox only lives as long as one serve process")

type Options struct {
	Redis bool // open Redis for the HTTP rate limiter
	// RequireDurableStore refuses the in-memory fallback. Set by every command whose
	// records must outlive the process (enqueue, worker drain/mailer/intake).
	RequireDurableStore bool
}

type App struct {
	Cfg config.Config
	Log *zap.Logger

	MySQL      *sqlx.DB // nil when the in-memory store is used
	ClickHouse *sqlx.DB // nil when the journal is disabled
	Redis      *redis.Client

	Outbox    repository.OutboxRepository
	Journal   repository.AttemptJournal
	Templates *render.Templates
	Queue     *queue.Service
	Transport transport.Transport
}

func New(cfg config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log, Journal: repository.NopJournal{}}
	if err := a.open(opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Bootstrap loads config, initializes the global logger and opens the app.
func Bootstrap(cfgPath string, opts Options) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	encoding := cfg.Log.Encoding
	if cfg.Dev.Enabled {
		encoding = "console"
	}
	logger.Init(cfg.Log.Level, encoding)
	return New(cfg, logger.Log, opts)
}

func (a *App) open(opts Options) error {
	var err error

	// outbox store
	switch {
	case a.Cfg.MySQL.DSN != "":
		if a.MySQL, err = db.NewMySQLConnection(a.Cfg.MySQL); err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.Outbox = repository.NewOutboxRepository(a.MySQL)
	case !opts.RequireDurableStore && (a.Cfg.Dev.Enabled || a.Cfg.Env != config.EnvProduction):
		a.Log.Warn("no mysql.dsn configured, using the in-memory outbox (not durable)")
		a.Outbox = repository.NewMemoryOutbox()
	default:
		return ErrStoreRequired
	}

	// attempt journal
	if a.Cfg.ClickHouse.DSN != "" {
		if a.ClickHouse, err = db.NewClickHouseConnection(a.Cfg.ClickHouse); err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		a.Journal = repository.NewCHAttemptJournal(a.ClickHouse)
	}

	if opts.Redis && a.Cfg.Redis.Addr != "" {
		if a.Redis, err = db.NewRedisClient(a.Cfg.Redis); err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
	}

	if a.Templates, err = render.Default(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	a.Queue = queue.New(a.Outbox, a.Templates, a.Log)
	a.Transport = NewTransport(a.Cfg, a.Log)
	return nil
}

// NewTransport returns the dev-mode transport when dev.enabled is set, SMTP otherwise.
func NewTransport(cfg config.Config, log *zap.Logger) transport.Transport {
	if cfg.Dev.Enabled {
		return transport.NewDevTransport(cfg.Dev.LogMethod, transport.CandidateDirs(cfg.Dev.LogDir), cfg.SMTP.From, log)
	}
	return transport.NewSMTPTransport(transport.SMTPConfig{
		Host:           cfg.SMTP.Host,
		Port:           cfg.SMTP.Port,
		User:           cfg.SMTP.User,
		Password:       cfg.SMTP.Password,
		From:           cfg.SMTP.From,
		TLS:            cfg.SMTP.TLS,
		ConnectTimeout: cfg.SMTP.ConnectTimeout,
		SendTimeout:    cfg.SMTP.SendTimeout,
	}, cfg.Breaker.FailThreshold, cfg.Breaker.OpenFor)
}

// Mailer builds the claim-and-process pipeline from config.
func (a *App) Mailer() *worker.Mailer {
	m := worker.NewMailer(a.Outbox, a.Transport, a.Journal, a.Cfg.SMTP.From, a.Log)
	m.BatchSize = a.Cfg.Outbox.BatchSize
	if a.Cfg.Outbox.LeaseDuration > 0 {
		m.Lease = a.Cfg.Outbox.LeaseDuration
	}
	m.Retry = delivery.RetryPolicy{
		Budget:        a.Cfg.Outbox.Retry.Budget,
		ShortDelay:    a.Cfg.Outbox.Retry.ShortDelay,
		LongDelay:     a.Cfg.Outbox.Retry.LongDelay,
		ShortAttempts: a.Cfg.Outbox.Retry.ShortAttempts,
	}.WithDefaults()
	return m
}

// Handle builds the tick driver around Mailer.
func (a *App) Handle() *worker.Handle {
	return worker.NewHandle(a.Mailer(), a.Cfg.Outbox.PollInterval, a.Log)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.ClickHouse != nil {
		_ = a.ClickHouse.Close()
	}
	if a.MySQL != nil {
		_ = a.MySQL.Close()
	}
}
