package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"esgwatch/internal/alerting"
	"esgwatch/internal/api"
	"esgwatch/internal/dashboard"
	"esgwatch/internal/live"
	"esgwatch/internal/models"
	"esgwatch/internal/scheduler"
	"esgwatch/internal/session"
	"esgwatch/internal/storage"
)

const workerBuffer = 64

// Backend is the part of the API client the dashboard reads from.
type Backend interface {
	Companies(ctx context.Context, query string) ([]models.Company, error)
	Scores(ctx context.Context, companyID, rng string) ([]models.ESGScore, error)
	Events(ctx context.Context, companyID string, filter api.EventFilter) ([]models.ESGEvent, error)
}

// LiveFeed is the push channel.
type LiveFeed interface {
	Connect(token string)
	Subscribe(handler live.Handler) func()
	Disconnect()
}

// Auth is the local session.
type Auth interface {
	Hydrate() error
	Token() string
	Authenticated() bool
	LoginRequired() <-chan struct{}
}

// Options tune the service.
type Options struct {
	Range           string
	RefreshInterval time.Duration
	AlignRefresh    bool
	Retention       time.Duration
	LockKey         int64
}

// Deps are the collaborators wired in by the application. Recorder, Scores,
// Notifier, Gate and Locker are optional.
type Deps struct {
	Backend  Backend
	Live     LiveFeed
	Session  Auth
	Store    *dashboard.Store
	Recorder storage.LiveUpdateStore
	Scores   storage.ScoreStore
	Notifier alerting.Notifier
	Gate     *alerting.Gate
	Locker   storage.AdvisoryLocker
}

// Service keeps the dashboard store in sync with the backend and the live channel.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the dashboard service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if opts.Range == "" {
		opts.Range = api.DefaultRange
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// LoadCompanies fetches the company list into the store and selects the first
// company when nothing is selected yet.
func (s *Service) LoadCompanies(ctx context.Context) ([]models.Company, error) {
	companies, err := s.deps.Backend.Companies(ctx, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load companies")
		return nil, fmt.Errorf("load companies: %w", err)
	}

	s.deps.Store.SetCompanies(companies)
	if _, ok := s.deps.Store.SelectedCompany(); !ok && len(companies) > 0 {
		s.deps.Store.SelectCompany(companies[0].ID)
	}
	return companies, nil
}

// LoadCompany fetches score history and events together. Either both land in
// the store or neither does.
func (s *Service) LoadCompany(ctx context.Context, companyID, rng string) error {
	if rng == "" {
		rng = s.opts.Range
	}

	var (
		scores []models.ESGScore
		events []models.ESGEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		scores, err = s.deps.Backend.Scores(gctx, companyID, rng)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = s.deps.Backend.Events(gctx, companyID, api.EventFilter{Range: rng})
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("company_id", companyID).Msg("failed to load company data")
		return fmt.Errorf("load company %s: %w", companyID, err)
	}

	s.deps.Store.SetScoreHistory(companyID, scores)
	if len(scores) > 0 {
		latest := scores[len(scores)-1]
		s.deps.Store.SetLatestScore(companyID, latest)
		// newest 策略下旧分数会被丢弃，数据库与视图保持一致
		if stored, ok := s.deps.Store.LatestScore(companyID); ok && stored.ID == latest.ID && stored.RecordedAt.Equal(latest.RecordedAt.Time) {
			s.persistLatest(ctx, latest, storage.SourceREST)
		}
	}
	s.deps.Store.SetEvents(companyID, events)
	return nil
}

// Refresh reloads companies and the selected company. Used as the scheduler tick.
func (s *Service) Refresh(ctx context.Context, _ time.Time) error {
	if _, err := s.LoadCompanies(ctx); err != nil {
		return err
	}
	if id, ok := s.deps.Store.SelectedCompany(); ok {
		if err := s.LoadCompany(ctx, id, ""); err != nil {
			return err
		}
	}
	s.prune(ctx)
	return nil
}

// Run restores the session, opens the live channel and keeps the store fresh
// until ctx ends or the backend rejects the credentials.
func (s *Service) Run(ctx context.Context) error {
	if err := s.deps.Session.Hydrate(); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !s.deps.Session.Authenticated() {
		return session.ErrNotAuthenticated
	}

	sched, err := scheduler.New(scheduler.Options{
		Name:         "dashboard_refresh",
		Interval:     s.opts.RefreshInterval,
		AlignToStart: s.opts.AlignRefresh,
		Immediate:    true,
	}, s.logger)
	if err != nil {
		return err
	}

	recording, release := s.claimRecorder(ctx)
	defer release()

	queue := make(chan models.LiveUpdate, workerBuffer)
	unsubStore := s.deps.Live.Subscribe(s.deps.Store.AddLiveUpdate)
	unsubWorker := s.deps.Live.Subscribe(func(update models.LiveUpdate) {
		select {
		case queue <- update:
		default:
			s.logger.Warn().Str("company_id", update.CompanyID).Msg("live worker backlog full; update not recorded")
		}
	})
	defer func() {
		unsubWorker()
		unsubStore()
		s.deps.Live.Disconnect()
	}()

	s.deps.Live.Connect(s.deps.Session.Token())
	s.logger.Info().Dur("refresh", s.opts.RefreshInterval).Bool("recording", recording).Msg("dashboard service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, s.Refresh)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case update := <-queue:
				s.handleUpdate(gctx, update, recording)
			}
		}
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-s.deps.Session.LoginRequired():
			s.logger.Warn().Msg("backend rejected credentials; stopping")
			return api.ErrUnauthorized
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Service) handleUpdate(ctx context.Context, update models.LiveUpdate, record bool) {
	now := s.now()
	if record {
		s.record(ctx, update, now)
	}
	s.alert(ctx, update, now)
}

func (s *Service) record(ctx context.Context, update models.LiveUpdate, now time.Time) {
	if s.deps.Recorder != nil {
		rec, err := storage.RecordFromUpdate(update, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to encode live update")
			return
		}
		if _, err := s.deps.Recorder.InsertLiveUpdate(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("company_id", update.CompanyID).Msg("failed to persist live update")
		}
	}
	s.persistLatest(ctx, models.ScoreFromLive(update, now), storage.SourceLive)
}

func (s *Service) alert(ctx context.Context, update models.LiveUpdate, now time.Time) {
	if s.deps.Notifier == nil || s.deps.Gate == nil {
		return
	}
	if !s.deps.Gate.Allow(update.CompanyID, update.Event.Severity, now) {
		return
	}

	note := alerting.Notification{
		At:          now,
		Update:      update,
		MinSeverity: s.deps.Gate.MinSeverity(),
	}
	if company, ok := s.deps.Store.Company(update.CompanyID); ok {
		note.CompanyName = company.Name
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("company_id", update.CompanyID).Msg("failed to dispatch alert")
	}
}

func (s *Service) persistLatest(ctx context.Context, score models.ESGScore, source string) {
	if s.deps.Scores == nil {
		return
	}
	if err := s.deps.Scores.UpsertLatestScore(ctx, storage.LatestFromScore(score, source)); err != nil {
		s.logger.Error().Err(err).Str("company_id", score.CompanyID).Msg("failed to persist latest score")
	}
}

func (s *Service) prune(ctx context.Context) {
	if s.deps.Recorder == nil || s.opts.Retention <= 0 {
		return
	}
	deleted, err := s.deps.Recorder.DeleteLiveUpdatesBefore(ctx, s.now().Add(-s.opts.Retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune live updates")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("pruned live updates")
	}
}

// claimRecorder takes the advisory lock so only one watcher records a tenant's
// feed into a shared database. Without a lock key every watcher records.
func (s *Service) claimRecorder(ctx context.Context) (bool, func()) {
	noop := func() {}
	if s.deps.Recorder == nil {
		return false, noop
	}
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return true, noop
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire recorder lock; recording disabled")
		return false, noop
	}
	if !acquired {
		s.logger.Info().Int64("lock_key", s.opts.LockKey).Msg("another watcher is recording; recording disabled")
		return false, noop
	}
	return true, unlock
}
