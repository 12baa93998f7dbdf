package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"esgwatch/internal/models"
)

// Score sources recorded in latest_scores.
const (
	SourceLive = "live"
	SourceREST = "rest"
)

// LiveUpdateRecord is a persisted live envelope.
type LiveUpdateRecord struct {
	ID            int64
	CompanyID     string
	TenantID      string
	EventID       string
	EventTitle    string
	Category      string
	Severity      int
	Sentiment     string
	Overall       decimal.Decimal
	Environmental decimal.Decimal
	Social        decimal.Decimal
	Governance    decimal.Decimal
	RiskLevel     string
	Payload       json.RawMessage
	ReceivedAt    time.Time
}

// LatestScoreRecord is the most recent known score per company.
type LatestScoreRecord struct {
	CompanyID     string
	Overall       decimal.Decimal
	Environmental decimal.Decimal
	Social        decimal.Decimal
	Governance    decimal.Decimal
	RiskLevel     string
	Source        string
	RecordedAt    time.Time
	UpdatedAt     time.Time
}

// RecordFromUpdate flattens a live envelope for persistence.
func RecordFromUpdate(update models.LiveUpdate, receivedAt time.Time) (LiveUpdateRecord, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return LiveUpdateRecord{}, fmt.Errorf("marshal live update: %w", err)
	}
	return LiveUpdateRecord{
		CompanyID:     update.CompanyID,
		TenantID:      update.TenantID,
		EventID:       update.Event.ID,
		EventTitle:    update.Event.Title,
		Category:      string(update.Event.Category),
		Severity:      update.Event.Severity,
		Sentiment:     string(update.Event.Sentiment),
		Overall:       update.Score.Overall,
		Environmental: update.Score.Environmental,
		Social:        update.Score.Social,
		Governance:    update.Score.Governance,
		RiskLevel:     string(update.Score.RiskLevel),
		Payload:       payload,
		ReceivedAt:    receivedAt.UTC(),
	}, nil
}

// LatestFromScore converts a score held by the dashboard into a row.
func LatestFromScore(score models.ESGScore, source string) LatestScoreRecord {
	return LatestScoreRecord{
		CompanyID:     score.CompanyID,
		Overall:       score.Overall,
		Environmental: score.Environmental,
		Social:        score.Social,
		Governance:    score.Governance,
		RiskLevel:     string(score.RiskLevel),
		Source:        source,
		RecordedAt:    score.RecordedAt.UTC(),
	}
}

// Update rebuilds the live envelope from its stored payload.
func (r LiveUpdateRecord) Update() (models.LiveUpdate, error) {
	var update models.LiveUpdate
	if err := json.Unmarshal(r.Payload, &update); err != nil {
		return models.LiveUpdate{}, fmt.Errorf("decode stored payload %d: %w", r.ID, err)
	}
	return update, nil
}
