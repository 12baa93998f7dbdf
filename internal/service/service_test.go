package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esgwatch/internal/alerting"
	"esgwatch/internal/api"
	"esgwatch/internal/dashboard"
	"esgwatch/internal/live"
	"esgwatch/internal/models"
	"esgwatch/internal/session"
	"esgwatch/internal/storage"
)

type fakeLive struct {
	mu           sync.Mutex
	handlers     map[int]live.Handler
	next         int
	token        string
	disconnected bool
}

func newFakeLive() *fakeLive {
	return &fakeLive{handlers: make(map[int]live.Handler)}
}

func (f *fakeLive) Connect(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeLive) Subscribe(h live.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeLive) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeLive) push(update models.LiveUpdate) {
	f.mu.Lock()
	handlers := make([]live.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(update)
	}
}

func (f *fakeLive) state() (string, bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.disconnected, len(f.handlers)
}

type fakeAuth struct {
	token    string
	rejected chan struct{}
}

func newFakeAuth(token string) *fakeAuth {
	return &fakeAuth{token: token, rejected: make(chan struct{}, 1)}
}

func (a *fakeAuth) Hydrate() error { return nil }

func (a *fakeAuth) Token() string { return a.token }

func (a *fakeAuth) Authenticated() bool { return a.token != "" }

func (a *fakeAuth) LoginRequired() <-chan struct{} { return a.rejected }

func (a *fakeAuth) reject() {
	select {
	case a.rejected <- struct{}{}:
	default:
	}
}

type memRecorder struct {
	mu      sync.Mutex
	updates []storage.LiveUpdateRecord
	latest  map[string]storage.LatestScoreRecord
}

func newMemRecorder() *memRecorder {
	return &memRecorder{latest: make(map[string]storage.LatestScoreRecord)}
}

func (m *memRecorder) InsertLiveUpdate(_ context.Context, rec storage.LiveUpdateRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, rec)
	return int64(len(m.updates)), nil
}

func (m *memRecorder) ListRecentLiveUpdates(context.Context, int) ([]storage.LiveUpdateRecord, error) {
	return nil, nil
}

func (m *memRecorder) ListCompanyLiveUpdates(context.Context, string, int) ([]storage.LiveUpdateRecord, error) {
	return nil, nil
}

func (m *memRecorder) CountLiveUpdates(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.updates)), nil
}

func (m *memRecorder) DeleteLiveUpdatesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memRecorder) UpsertLatestScore(_ context.Context, rec storage.LatestScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[rec.CompanyID] = rec
	return nil
}

func (m *memRecorder) ListLatestScores(context.Context) ([]storage.LatestScoreRecord, error) {
	return nil, nil
}

func (m *memRecorder) snapshot() ([]storage.LiveUpdateRecord, map[string]storage.LatestScoreRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]storage.LatestScoreRecord, len(m.latest))
	for k, v := range m.latest {
		latest[k] = v
	}
	return append([]storage.LiveUpdateRecord(nil), m.updates...), latest
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type backendOpts struct {
	failEvents bool
	reject     bool
}

func newBackend(t *testing.T, opts backendOpts, tokens api.TokenSource, onUnauthorized func()) *api.Client {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v1/companies", func(w http.ResponseWriter, _ *http.Request) {
		if opts.reject {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "A", "name": "Acme"}, {"id": "B", "name": "Beta"}})
	})
	r.Get("/v1/companies/{id}/scores", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "s1", "company_id": id, "overall": 40, "environmental": 40, "social": 40, "governance": 40, "risk_level": "high", "recorded_at": "2024-05-01T00:00:00"},
			{"id": "s2", "company_id": id, "overall": 55, "environmental": 50, "social": 60, "governance": 55, "risk_level": "medium", "recorded_at": "2024-05-02T00:00:00"},
		})
	})
	r.Get("/v1/companies/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		if opts.failEvents {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "e1", "company_id": chi.URLParam(r, "id"), "title": "Spill", "severity": 8}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api.NewClient(api.Options{BaseURL: srv.URL, Tokens: tokens, OnUnauthorized: onUnauthorized}, zerolog.Nop())
}

func liveUpdate(companyID string, severity int) models.LiveUpdate {
	return models.LiveUpdate{
		Type:      models.LiveUpdateType,
		CompanyID: companyID,
		Score:     models.LiveScore{Overall: decimal.NewFromInt(70), RiskLevel: models.RiskLow},
		Event:     models.LiveEvent{ID: "ev", Title: "Live", Severity: severity},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestLoadCompaniesSelectsFirst(t *testing.T) {
	store := dashboard.New(dashboard.Options{})
	svc := New(Options{}, Deps{Backend: newBackend(t, backendOpts{}, nil, nil), Store: store}, zerolog.Nop())

	companies, err := svc.LoadCompanies(context.Background())
	if err != nil || len(companies) != 2 {
		t.Fatalf("unexpected result %v %v", companies, err)
	}
	if id, ok := store.SelectedCompany(); !ok || id != "A" {
		t.Fatalf("first company should be selected, got %q", id)
	}

	store.SelectCompany("B")
	if _, err := svc.LoadCompanies(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id, _ := store.SelectedCompany(); id != "B" {
		t.Fatalf("existing selection should be kept, got %q", id)
	}
}

func TestLoadCompanyPopulatesStore(t *testing.T) {
	store := dashboard.New(dashboard.Options{})
	rec := newMemRecorder()
	svc := New(Options{}, Deps{Backend: newBackend(t, backendOpts{}, nil, nil), Store: store, Scores: rec}, zerolog.Nop())

	if err := svc.LoadCompany(context.Background(), "A", ""); err != nil {
		t.Fatalf("load company: %v", err)
	}
	history, ok := store.ScoreHistory("A")
	if !ok || len(history) != 2 {
		t.Fatalf("unexpected history %v", history)
	}
	latest, ok := store.LatestScore("A")
	if !ok || latest.ID != "s2" {
		t.Fatalf("latest should be last history entry, got %+v", latest)
	}
	if events, ok := store.Events("A"); !ok || len(events) != 1 {
		t.Fatalf("unexpected events %v", events)
	}
	_, persisted := rec.snapshot()
	if persisted["A"].Source != storage.SourceREST {
		t.Fatalf("latest score should be persisted, got %+v", persisted)
	}
}

func TestLoadCompanySkipsPersistWhenNewestKeepsLive(t *testing.T) {
	store := dashboard.New(dashboard.Options{Policy: dashboard.MergeNewest})
	pushed := models.ESGScore{ID: "live", CompanyID: "A", Overall: decimal.NewFromInt(70), RecordedAt: models.Timestamp{Time: time.Now().UTC()}}
	store.SetLatestScore("A", pushed)
	rec := newMemRecorder()
	svc := New(Options{}, Deps{Backend: newBackend(t, backendOpts{}, nil, nil), Store: store, Scores: rec}, zerolog.Nop())

	if err := svc.LoadCompany(context.Background(), "A", ""); err != nil {
		t.Fatalf("load company: %v", err)
	}
	if latest, _ := store.LatestScore("A"); latest.ID != "live" {
		t.Fatalf("older REST score should be ignored, got %+v", latest)
	}
	if _, persisted := rec.snapshot(); len(persisted) != 0 {
		t.Fatalf("ignored score must not be persisted, got %+v", persisted)
	}
}

func TestLoadCompanyAllOrNothing(t *testing.T) {
	store := dashboard.New(dashboard.Options{})
	svc := New(Options{}, Deps{Backend: newBackend(t, backendOpts{failEvents: true}, nil, nil), Store: store}, zerolog.Nop())

	err := svc.LoadCompany(context.Background(), "A", "7d")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected api error, got %v", err)
	}
	if _, ok := store.ScoreHistory("A"); ok {
		t.Fatal("history must stay absent when events fail")
	}
	if _, ok := store.LatestScore("A"); ok {
		t.Fatal("latest must stay absent when events fail")
	}
}

func TestHandleUpdateRecordsAndAlerts(t *testing.T) {
	store := dashboard.New(dashboard.Options{})
	store.SetCompanies([]models.Company{{ID: "A", Name: "Acme"}})
	rec := newMemRecorder()
	notifier := &captureNotifier{}
	svc := New(Options{}, Deps{
		Store:    store,
		Recorder: rec,
		Scores:   rec,
		Notifier: notifier,
		Gate:     alerting.NewGate(7, time.Hour),
	}, zerolog.Nop())

	ctx := context.Background()
	svc.handleUpdate(ctx, liveUpdate("A", 3), true)
	svc.handleUpdate(ctx, liveUpdate("A", 9), true)
	svc.handleUpdate(ctx, liveUpdate("A", 9), false)

	updates, latest := rec.snapshot()
	if len(updates) != 2 {
		t.Fatalf("expected 2 recorded updates, got %d", len(updates))
	}
	if latest["A"].Source != storage.SourceLive || !latest["A"].Overall.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("unexpected latest %+v", latest["A"])
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one alert, got %d", notifier.count())
	}
	if notifier.notes[0].CompanyName != "Acme" || notifier.notes[0].MinSeverity != 7 {
		t.Fatalf("unexpected notification %+v", notifier.notes[0])
	}
}

func TestRunRequiresSession(t *testing.T) {
	svc := New(Options{RefreshInterval: time.Minute}, Deps{
		Store:   dashboard.New(dashboard.Options{}),
		Live:    newFakeLive(),
		Session: newFakeAuth(""),
	}, zerolog.Nop())

	if err := svc.Run(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRunWiresLiveChannel(t *testing.T) {
	auth := newFakeAuth("tok")
	feed := newFakeLive()
	store := dashboard.New(dashboard.Options{})
	rec := newMemRecorder()
	svc := New(Options{RefreshInterval: time.Hour}, Deps{
		Backend:  newBackend(t, backendOpts{}, auth, nil),
		Live:     feed,
		Session:  auth,
		Store:    store,
		Recorder: rec,
		Scores:   rec,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, func() bool {
		token, _, subs := feed.state()
		return token == "tok" && subs == 2
	})
	waitFor(t, func() bool {
		_, ok := store.ScoreHistory("A")
		return ok
	})

	feed.push(liveUpdate("A", 2))
	if got := store.LiveFeed(); len(got) != 1 || got[0].CompanyID != "A" {
		t.Fatalf("store should receive the update synchronously, got %v", got)
	}
	waitFor(t, func() bool {
		updates, _ := rec.snapshot()
		return len(updates) == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run should stop cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if _, disconnected, subs := feed.state(); !disconnected || subs != 0 {
		t.Fatalf("channel should be released, disconnected=%v subs=%d", disconnected, subs)
	}
}

func TestRunStopsWhenCredentialsRejected(t *testing.T) {
	auth := newFakeAuth("tok")
	svc := New(Options{RefreshInterval: time.Hour}, Deps{
		Backend: newBackend(t, backendOpts{reject: true}, auth, auth.reject),
		Live:    newFakeLive(),
		Session: auth,
		Store:   dashboard.New(dashboard.Options{}),
	}, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, api.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after 401")
	}
}
