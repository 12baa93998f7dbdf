package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"esgwatch/internal/alerting"
	"esgwatch/internal/dashboard"
	"esgwatch/internal/live"
	"esgwatch/internal/models"
	"esgwatch/internal/service"
)

// Watch runs the long-lived dashboard session: live updates are printed as
// they arrive, recorded when a database is configured, and alerted on.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := a.authedSession()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; live updates will not be recorded")
	}
	if closeStore != nil {
		defer closeStore()
	}

	channel := a.newChannel()
	view := a.newStore()

	deps := service.Deps{
		Backend: a.newClient(sess),
		Live:    channel,
		Session: sess,
		Store:   view,
	}
	if store != nil {
		deps.Recorder = store
		deps.Scores = store
		deps.Locker = store
	}
	if notifier := a.newNotifier(); notifier != nil {
		deps.Notifier = notifier
		deps.Gate = alerting.NewGate(a.Config.Alerting.MinSeverity, a.Config.Alerting.Cooldown)
	}

	svc := service.New(service.Options{
		Range:           a.Config.Dashboard.Range,
		RefreshInterval: a.Config.Dashboard.RefreshInterval,
		AlignRefresh:    a.Config.Dashboard.AlignRefresh,
		Retention:       a.Config.Database.Retention,
		LockKey:         a.Config.Database.RecorderLockKey,
	}, deps, a.Logger)

	unsubscribe := channel.Subscribe(func(update models.LiveUpdate) {
		a.printUpdate(view, update)
	})
	defer unsubscribe()

	a.Logger.Info().Str("api", a.Config.API.BaseURL).Msg("starting live watch")
	err = svc.Run(ctx)
	stats := channel.Stats()
	a.Logger.Info().
		Uint64("delivered", stats.Delivered).
		Uint64("ignored_control", stats.Control).
		Uint64("ignored_malformed", stats.Malformed).
		Uint64("reconnects", stats.Reconnects).
		Msg("live watch stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) printUpdate(view *dashboard.Store, update models.LiveUpdate) {
	name := update.CompanyID
	if company, ok := view.Company(update.CompanyID); ok {
		name = company.Name
	}
	fmt.Fprintf(a.Out, "%s  %-24s  overall %5s  %-8s  sev %2d  %s: %s\n",
		time.Now().UTC().Format(time.RFC3339),
		sanitizeInline(name),
		update.Score.Overall.StringFixed(1),
		update.Score.RiskLevel,
		update.Event.Severity,
		update.Event.Category,
		sanitizeInline(update.Event.Title),
	)
}

var _ service.LiveFeed = (*live.Channel)(nil)
