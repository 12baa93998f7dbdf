package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esgwatch/internal/api"
	"esgwatch/internal/config"
	"esgwatch/internal/models"
	"esgwatch/internal/session"
	"esgwatch/internal/storage"
)

type fixture struct {
	app      *App
	out      *bytes.Buffer
	srv      *httptest.Server
	added    atomic.Int32
	telegram atomic.Int32
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer tok"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &bytes.Buffer{}}

	r := chi.NewRouter()
	r.Post("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": "tok", "token_type": "bearer",
			"user_id": "u1", "tenant_id": "t1", "email": body["email"], "full_name": "Ada Lovelace",
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !authorized(r) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/v1/companies", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{{"id": "A", "name": "Acme", "ticker": "ACM", "sector": nil}})
		})
		r.Get("/v1/companies/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "id"), "name": "Acme", "ticker": "ACM", "description": "Widgets"})
		})
		r.Get("/v1/companies/{id}/scores", func(w http.ResponseWriter, r *http.Request) {
			scores := make([]map[string]any, 0, 10)
			for i := 0; i < 10; i++ {
				scores = append(scores, map[string]any{
					"id": "s", "company_id": chi.URLParam(r, "id"),
					"overall": 50 + i, "environmental": 40 + i, "social": 60, "governance": 55,
					"risk_level": "medium",
					"recorded_at": time.Date(2024, 5, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05"),
				})
			}
			writeJSON(w, http.StatusOK, scores)
		})
		r.Get("/v1/companies/{id}/events", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": "e1", "title": "Spill", "severity": 8, "category": "environmental", "sentiment": "negative", "event_date": "2024-05-03T00:00:00"},
				{"id": "e2", "title": "Award", "severity": 2, "category": "social", "sentiment": "positive", "event_date": "2024-05-04T00:00:00"},
			})
		})
		r.Get("/v1/watchlists/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "id"), "name": "Core", "items": []map[string]any{{"id": "i1", "company_id": "A"}}})
		})
		r.Post("/v1/watchlists/{id}/items", func(w http.ResponseWriter, _ *http.Request) {
			f.added.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
		})
		r.Post("/v1/chat", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"answer":    "Acme has elevated environmental risk.",
				"citations": []map[string]any{{"idx": 1, "title": "Spill report", "url": "https://news.example/spill", "ts": "2024-05-03T00:00:00"}},
			})
		})
	})
	r.Post("/botbot/sendMessage", func(w http.ResponseWriter, _ *http.Request) {
		f.telegram.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)

	cfg := &config.Config{
		API:       config.APIConfig{BaseURL: f.srv.URL, Timeout: 5 * time.Second},
		Session:   config.SessionConfig{Path: filepath.Join(t.TempDir(), "session.json")},
		Dashboard: config.DashboardConfig{LatestPolicy: "last-write", Range: "30d", RefreshInterval: time.Minute},
		Export:    config.ExportConfig{MaxDataPoints: 2000},
		Alerting: config.AlertingConfig{
			Enabled:     true,
			MinSeverity: 7,
			Telegram:    config.TelegramConfig{Enabled: true, BotToken: "bot", ChatID: "chat", APIBase: f.srv.URL},
		},
	}
	f.app = NewApp(cfg, zerolog.Nop())
	f.app.Out = f.out
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	if err := f.app.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	f.out.Reset()
}

func TestLoginPersistsSession(t *testing.T) {
	f := newFixture(t)
	if err := f.app.Login(context.Background(), "ada@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(f.out.String(), "logged in as Ada Lovelace") {
		t.Fatalf("unexpected output %q", f.out.String())
	}

	sess := session.New(f.app.Config.Session.Path, zerolog.Nop())
	if err := sess.Hydrate(); err != nil || !sess.Authenticated() || sess.Token() != "tok" {
		t.Fatalf("session not persisted: err=%v token=%q", err, sess.Token())
	}

	f.out.Reset()
	if err := f.app.Whoami(); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(f.out.String(), "tenant: t1") {
		t.Fatalf("unexpected whoami %q", f.out.String())
	}
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t)
	err := f.app.Login(context.Background(), "ada@example.com", "wrong")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Detail != "Invalid credentials" {
		t.Fatalf("expected api error, got %v", err)
	}
	if errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("rejected credentials must not read as an expired session: %v", err)
	}
}

func TestCommandsRequireLogin(t *testing.T) {
	f := newFixture(t)
	if err := f.app.Companies(context.Background(), ""); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	f := newFixture(t)
	sess := session.New(f.app.Config.Session.Path, zerolog.Nop())
	if err := sess.SetAuth("stale", models.User{UserID: "u1"}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := f.app.Companies(context.Background(), ""); !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := sess.Hydrate(); err != nil || sess.Authenticated() {
		t.Fatal("session should be cleared after 401")
	}
}

func TestCompaniesAndCompany(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	if err := f.app.Companies(ctx, ""); err != nil {
		t.Fatalf("companies: %v", err)
	}
	if !strings.Contains(f.out.String(), "Acme") || !strings.Contains(f.out.String(), "ACM") {
		t.Fatalf("unexpected companies output %q", f.out.String())
	}

	f.out.Reset()
	if err := f.app.Company(ctx, "A", CompanyOptions{SeverityGTE: 5}); err != nil {
		t.Fatalf("company: %v", err)
	}
	out := f.out.String()
	for _, want := range []string{"Acme (ACM)", "Latest: 59.0", "History: 10 scores", "Spill"} {
		if !strings.Contains(out, want) {
			t.Fatalf("company output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Award") {
		t.Fatalf("low severity event should be filtered:\n%s", out)
	}
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "scores.csv")
	pngPath := filepath.Join(dir, "out", "scores.png")

	err := f.app.Export(context.Background(), ExportOptions{CompanyID: "A", CSVPath: csvPath, PNGPath: pngPath, MaxPoints: 4})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 || rows[0][0] != "recorded_at" {
		t.Fatalf("expected header plus 4 rows, got %v", rows)
	}
	if rows[1][0] != "2024-05-01T00:00:00Z" || rows[4][2] != "59" {
		t.Fatalf("downsampling should keep first and last: %v", rows)
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestExportRequiresTarget(t *testing.T) {
	f := newFixture(t)
	if err := f.app.Export(context.Background(), ExportOptions{CompanyID: "A"}); err == nil {
		t.Fatal("expected error without --csv or --png")
	}
}

func TestAddToWatchlistSkipsExisting(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	ctx := context.Background()

	if err := f.app.AddToWatchlist(ctx, "w1", "A"); err != nil {
		t.Fatalf("add existing: %v", err)
	}
	if f.added.Load() != 0 || !strings.Contains(f.out.String(), "already in Core") {
		t.Fatalf("existing member should not be re-added: %q", f.out.String())
	}
	if err := f.app.AddToWatchlist(ctx, "w1", "B"); err != nil {
		t.Fatalf("add new: %v", err)
	}
	if f.added.Load() != 1 {
		t.Fatalf("expected one add call, got %d", f.added.Load())
	}
}

func TestChatPrintsCitations(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	if err := f.app.Chat(context.Background(), "How is Acme doing?", "A"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(f.out.String(), "[1] Spill report https://news.example/spill (2024-05-03)") {
		t.Fatalf("unexpected chat output %q", f.out.String())
	}
}

func TestFeedRequiresDatabase(t *testing.T) {
	f := newFixture(t)
	if err := f.app.Feed(context.Background(), FeedOptions{Limit: 10}); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestWriteLatestScores(t *testing.T) {
	var out bytes.Buffer
	if err := writeLatestScores(&out, nil); err != nil || !strings.Contains(out.String(), "no latest scores recorded") {
		t.Fatalf("unexpected empty output %q %v", out.String(), err)
	}

	out.Reset()
	records := []storage.LatestScoreRecord{{
		CompanyID:     "A",
		Overall:       decimal.RequireFromString("55.25"),
		Environmental: decimal.NewFromInt(50),
		Social:        decimal.NewFromInt(60),
		Governance:    decimal.NewFromInt(55),
		RiskLevel:     "medium",
		Source:        storage.SourceREST,
		RecordedAt:    time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}}
	if err := writeLatestScores(&out, records); err != nil {
		t.Fatalf("write latest: %v", err)
	}
	for _, want := range []string{"Company", "55.3", "medium", storage.SourceREST, "2024-05-02T00:00:00Z"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q: %q", want, out.String())
		}
	}
}

func TestSimulateAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.app.SimulateAlert(ctx, SimulateOptions{Severity: 3}); err != nil {
		t.Fatalf("simulate below threshold: %v", err)
	}
	if f.telegram.Load() != 0 {
		t.Fatal("below threshold should not notify")
	}
	if err := f.app.SimulateAlert(ctx, SimulateOptions{CompanyID: "A"}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if f.telegram.Load() != 1 {
		t.Fatalf("expected one telegram call, got %d", f.telegram.Load())
	}

	f.app.Config.Alerting.Enabled = false
	if err := f.app.SimulateAlert(ctx, SimulateOptions{}); err == nil {
		t.Fatal("disabled alerting should error")
	}
}
