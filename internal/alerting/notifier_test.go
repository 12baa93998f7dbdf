package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"esgwatch/internal/models"
)

func sampleNotification() Notification {
	return Notification{
		At:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CompanyName: "Acme",
		MinSeverity: 7,
		Update: models.LiveUpdate{
			Type:      models.LiveUpdateType,
			CompanyID: "A",
			Score: models.LiveScore{
				Overall:       decimal.RequireFromString("41.5"),
				Environmental: decimal.NewFromInt(30),
				Social:        decimal.NewFromInt(50),
				Governance:    decimal.NewFromInt(45),
				RiskLevel:     models.RiskHigh,
			},
			Event: models.LiveEvent{ID: "e1", Title: "Spill", Category: models.CategoryEnvironmental, Severity: 8, Sentiment: models.SentimentNegative},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("路径应为 /bottoken/sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Spill") {
		t.Fatalf("text 应包含事件标题: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false 应报错, got %v", err)
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNotification())
	for _, want := range []string{
		"Company: Acme",
		"Time: 2024-05-01T12:00:00Z UTC",
		"Category: environmental / negative",
		"Severity: 8 (threshold 7)",
		"Score: 41.5 (E 30.0 / S 50.0 / G 45.0)",
		"Risk: high",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	note := sampleNotification()
	note.CompanyName = ""
	if !strings.Contains(RenderMessage(note), "Company: A\n") {
		t.Fatal("company id should be used when the name is unknown")
	}
}

func TestGate(t *testing.T) {
	g := NewGate(7, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if g.Allow("A", 6, now) {
		t.Fatal("below threshold should not alert")
	}
	if !g.Allow("A", 7, now) {
		t.Fatal("threshold severity should alert")
	}
	if g.Allow("A", 9, now.Add(30*time.Second)) {
		t.Fatal("cooldown should suppress repeat alert")
	}
	if !g.Allow("B", 9, now.Add(30*time.Second)) {
		t.Fatal("cooldown is per company")
	}
	if !g.Allow("A", 9, now.Add(time.Minute)) {
		t.Fatal("alert should fire again after cooldown")
	}
}
