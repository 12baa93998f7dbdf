package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"esgwatch/internal/alerting"
	"esgwatch/internal/models"
)

// SimulateAlert 构造一条实时更新并通过已配置的告警通道发送。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	if opts.CompanyID == "" {
		opts.CompanyID = "simulated"
	}
	if opts.Title == "" {
		opts.Title = "Simulated ESG event"
	}
	if opts.Severity <= 0 {
		opts.Severity = a.Config.Alerting.MinSeverity
	}

	update := models.LiveUpdate{
		Type:      models.LiveUpdateType,
		CompanyID: opts.CompanyID,
		Score: models.LiveScore{
			Overall:       decimal.NewFromInt(50),
			Environmental: decimal.NewFromInt(50),
			Social:        decimal.NewFromInt(50),
			Governance:    decimal.NewFromInt(50),
			RiskLevel:     models.RiskMedium,
		},
		Event: models.LiveEvent{
			ID:        "simulated",
			Title:     opts.Title,
			Category:  models.CategoryEnvironmental,
			Severity:  opts.Severity,
			Sentiment: models.SentimentNegative,
		},
	}

	gate := alerting.NewGate(a.Config.Alerting.MinSeverity, 0)
	now := time.Now().UTC()
	if !gate.Allow(update.CompanyID, update.Event.Severity, now) {
		a.Logger.Info().Int("severity", opts.Severity).Int("min_severity", gate.MinSeverity()).Msg("simulated update is below the alert threshold")
		return nil
	}
	return notifier.Notify(ctx, alerting.Notification{
		At:            now,
		Update:        update,
		MinSeverity:   gate.MinSeverity(),
		AdditionalMsg: "(simulated)",
	})
}
