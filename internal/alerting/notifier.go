package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"esgwatch/internal/models"
)

// Notification 封装告警上下文。
type Notification struct {
	At            time.Time
	CompanyName   string
	Update        models.LiveUpdate
	MinSeverity   int
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("company_id", note.Update.CompanyID).
		Str("event_id", note.Update.Event.ID).
		Int("severity", note.Update.Event.Severity).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats a live update as a plain-text alert.
func RenderMessage(note Notification) string {
	u := note.Update
	company := note.CompanyName
	if company == "" {
		company = u.CompanyID
	}

	var b strings.Builder
	b.WriteString("[ESG Live Alert]\n")
	fmt.Fprintf(&b, "Company: %s\n", company)
	if !note.At.IsZero() {
		fmt.Fprintf(&b, "Time: %s UTC\n", note.At.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Event: %s\n", u.Event.Title)
	fmt.Fprintf(&b, "Category: %s / %s\n", u.Event.Category, u.Event.Sentiment)
	fmt.Fprintf(&b, "Severity: %d (threshold %d)\n", u.Event.Severity, note.MinSeverity)
	fmt.Fprintf(&b, "Score: %s (E %s / S %s / G %s)\n",
		u.Score.Overall.StringFixed(1),
		u.Score.Environmental.StringFixed(1),
		u.Score.Social.StringFixed(1),
		u.Score.Governance.StringFixed(1),
	)
	fmt.Fprintf(&b, "Risk: %s\n", u.Score.RiskLevel)
	if note.AdditionalMsg != "" {
		b.WriteString(note.AdditionalMsg)
	}
	return b.String()
}

// LogNotifier writes alerts to the log. Used when no external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("company_id", note.Update.CompanyID).
		Int("severity", note.Update.Event.Severity).
		Msg(RenderMessage(note))
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
