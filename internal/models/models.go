package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies an overall score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Category is the ESG pillar an event belongs to.
type Category string

const (
	CategoryEnvironmental Category = "environmental"
	CategorySocial        Category = "social"
	CategoryGovernance    Category = "governance"
)

// Valid reports whether c is one of the three pillars.
func (c Category) Valid() bool {
	switch c {
	case CategoryEnvironmental, CategorySocial, CategoryGovernance:
		return true
	}
	return false
}

// Sentiment tags the tone of an event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Company is a tracked issuer.
type Company struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Ticker      *string `json:"ticker"`
	Sector      *string `json:"sector"`
	Country     *string `json:"country"`
	Description string  `json:"description"`
	LogoURL     string  `json:"logo_url"`
}

// ESGScore is a point-in-time measurement for one company.
type ESGScore struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	Overall       decimal.Decimal `json:"overall"`
	Environmental decimal.Decimal `json:"environmental"`
	Social        decimal.Decimal `json:"social"`
	Governance    decimal.Decimal `json:"governance"`
	RiskLevel     RiskLevel       `json:"risk_level"`
	RecordedAt    Timestamp       `json:"recorded_at"`
}

// ESGEvent is a discrete occurrence tied to a company.
type ESGEvent struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	SourceURL   string    `json:"source_url"`
	Category    Category  `json:"category"`
	Subcategory string    `json:"subcategory"`
	Severity    int       `json:"severity"`
	Confidence  float64   `json:"confidence"`
	Sentiment   Sentiment `json:"sentiment"`
	EventDate   Timestamp `json:"event_date"`
	CreatedAt   Timestamp `json:"created_at"`
}

// LiveUpdateType is the tag carried by score envelopes on the push channel.
const LiveUpdateType = "score_update"

// LiveScore is the partial score snapshot inside a live envelope.
type LiveScore struct {
	Overall       decimal.Decimal `json:"overall"`
	Environmental decimal.Decimal `json:"environmental"`
	Social        decimal.Decimal `json:"social"`
	Governance    decimal.Decimal `json:"governance"`
	RiskLevel     RiskLevel       `json:"risk_level"`
}

// LiveEvent summarises the event that caused a live score change.
type LiveEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  Category  `json:"category"`
	Severity  int       `json:"severity"`
	Sentiment Sentiment `json:"sentiment"`
}

// LiveUpdate is an ephemeral envelope pushed over the live channel.
type LiveUpdate struct {
	Type      string    `json:"type"`
	CompanyID string    `json:"company_id"`
	TenantID  string    `json:"tenant_id"`
	Score     LiveScore `json:"score"`
	Event     LiveEvent `json:"event"`
}

// ScoreFromLive synthesises a latest-score record from a live envelope.
// The envelope carries no timestamp of its own, so the record is stamped with now.
func ScoreFromLive(update LiveUpdate, now time.Time) ESGScore {
	return ESGScore{
		CompanyID:     update.CompanyID,
		Overall:       update.Score.Overall,
		Environmental: update.Score.Environmental,
		Social:        update.Score.Social,
		Governance:    update.Score.Governance,
		RiskLevel:     update.Score.RiskLevel,
		RecordedAt:    Timestamp{Time: now.UTC()},
	}
}

// Watchlist groups companies a user follows.
type Watchlist struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt Timestamp       `json:"created_at"`
	Items     []WatchlistItem `json:"items"`
}

// Contains reports whether the watchlist already holds companyID.
func (w Watchlist) Contains(companyID string) bool {
	for _, item := range w.Items {
		if item.CompanyID == companyID {
			return true
		}
	}
	return false
}

// WatchlistItem is a company membership inside one watchlist.
type WatchlistItem struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	AddedAt   Timestamp `json:"added_at"`
}

// AlertRule describes a server-side alert condition.
type AlertRule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CompanyID      *string   `json:"company_id"`
	ConditionType  string    `json:"condition_type"`
	Threshold      float64   `json:"threshold"`
	CategoryFilter string    `json:"category_filter"`
	Channels       []string  `json:"channels"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      Timestamp `json:"created_at"`
}

// AlertRuleInput is the body for creating an alert rule.
type AlertRuleInput struct {
	Name           string   `json:"name"`
	CompanyID      string   `json:"company_id,omitempty"`
	ConditionType  string   `json:"condition_type"`
	Threshold      float64  `json:"threshold"`
	CategoryFilter string   `json:"category_filter,omitempty"`
	Channels       []string `json:"channels"`
}

// AlertDelivery records one delivery of a triggered rule.
type AlertDelivery struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"rule_id"`
	EventID     *string         `json:"event_id"`
	Channel     string          `json:"channel"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	DeliveredAt Timestamp       `json:"delivered_at"`
}

// Citation references a source used in a chat answer.
type Citation struct {
	Idx   int        `json:"idx"`
	Title string     `json:"title"`
	URL   string     `json:"url"`
	TS    *Timestamp `json:"ts"`
}

// ChatResponse is the assistant answer.
type ChatResponse struct {
	Answer        string     `json:"answer"`
	Citations     []Citation `json:"citations"`
	UsedCompanyID *string    `json:"used_company_id"`
}

// EventInput is the body for manual event ingestion.
type EventInput struct {
	CompanyID   string   `json:"company_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceURL   string   `json:"source_url,omitempty"`
	Category    Category `json:"category,omitempty"`
}

// IngestResult acknowledges an ingested event.
type IngestResult struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// User is the authenticated profile kept in the local session.
type User struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// LoginResponse is returned by the auth endpoint.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
}

// User extracts the profile part of the login response.
func (r LoginResponse) User() User {
	return User{UserID: r.UserID, TenantID: r.TenantID, Email: r.Email, FullName: r.FullName}
}
