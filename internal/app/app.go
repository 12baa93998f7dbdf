package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"esgwatch/internal/alerting"
	"esgwatch/internal/api"
	"esgwatch/internal/config"
	"esgwatch/internal/dashboard"
	"esgwatch/internal/live"
	"esgwatch/internal/session"
	"esgwatch/internal/storage"
	"esgwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newSession() (*session.Session, error) {
	sess := session.New(a.Config.Session.Path, a.Logger)
	if err := sess.Hydrate(); err != nil {
		return nil, err
	}
	return sess, nil
}

// authedSession restores the session and fails when nobody is logged in.
func (a *App) authedSession() (*session.Session, error) {
	sess, err := a.newSession()
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() {
		return nil, session.ErrNotAuthenticated
	}
	return sess, nil
}

func (a *App) newClient(sess *session.Session) *api.Client {
	opts := api.Options{
		BaseURL:           a.Config.API.BaseURL,
		Timeout:           a.Config.API.Timeout,
		UserAgent:         a.Config.API.UserAgent,
		RequestsPerSecond: a.Config.API.RequestsPerSecond,
		Burst:             a.Config.API.Burst,
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	if sess != nil {
		opts.Tokens = sess
		opts.OnUnauthorized = sess.HandleUnauthorized
	}
	return api.NewClient(opts, a.Logger)
}

func (a *App) newChannel() *live.Channel {
	return live.New(live.Options{
		BaseURL:        a.Config.API.BaseURL,
		ReconnectDelay: a.Config.Live.ReconnectDelay,
		DialTimeout:    a.Config.Live.DialTimeout,
		PingInterval:   a.Config.Live.PingInterval,
	}, a.Logger)
}

func (a *App) newStore() *dashboard.Store {
	return dashboard.New(dashboard.Options{Policy: a.Config.LatestPolicy()})
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, pool, a.Logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// ExportOptions hold parameters for exporting a company's score history.
type ExportOptions struct {
	CompanyID string
	Range     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// FeedOptions configure the feed command.
type FeedOptions struct {
	Limit     int
	CompanyID string
	// Latest prints the persisted latest score per company instead of the update log.
	Latest bool
}

// CompanyOptions configure the company detail command.
type CompanyOptions struct {
	Range       string
	SeverityGTE int
}

// SimulateOptions describe a synthetic live update used to test alert delivery.
type SimulateOptions struct {
	CompanyID string
	Title     string
	Severity  int
}
