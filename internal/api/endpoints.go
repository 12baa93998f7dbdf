package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"esgwatch/internal/models"
)

// DefaultRange is the history window used when none is given.
const DefaultRange = "30d"

// EventFilter narrows an event listing.
type EventFilter struct {
	Range       string
	SeverityGTE int
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	body := map[string]string{"email": email, "password": password}
	err := c.send(ctx, http.MethodPost, "/v1/auth/login", body, &out, false)
	return out, err
}

// Companies lists companies, optionally filtered by a search query.
func (c *Client) Companies(ctx context.Context, query string) ([]models.Company, error) {
	path := "/v1/companies"
	if query != "" {
		path += "?query=" + url.QueryEscape(query)
	}
	var out []models.Company
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Company fetches one company.
func (c *Client) Company(ctx context.Context, id string) (models.Company, error) {
	var out models.Company
	err := c.do(ctx, http.MethodGet, "/v1/companies/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Scores returns a company's score history for a range such as "30d", oldest first.
func (c *Client) Scores(ctx context.Context, companyID, rng string) ([]models.ESGScore, error) {
	if rng == "" {
		rng = DefaultRange
	}
	path := "/v1/companies/" + url.PathEscape(companyID) + "/scores?range=" + url.QueryEscape(rng)
	out := []models.ESGScore{}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Events returns a company's events.
func (c *Client) Events(ctx context.Context, companyID string, filter EventFilter) ([]models.ESGEvent, error) {
	rng := filter.Range
	if rng == "" {
		rng = DefaultRange
	}
	q := url.Values{}
	q.Set("range", rng)
	if filter.SeverityGTE > 0 {
		q.Set("severity_gte", strconv.Itoa(filter.SeverityGTE))
	}
	path := "/v1/companies/" + url.PathEscape(companyID) + "/events?" + q.Encode()
	out := []models.ESGEvent{}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Watchlists lists the user's watchlists.
func (c *Client) Watchlists(ctx context.Context) ([]models.Watchlist, error) {
	var out []models.Watchlist
	err := c.do(ctx, http.MethodGet, "/v1/watchlists", nil, &out)
	return out, err
}

// Watchlist fetches one watchlist with its items.
func (c *Client) Watchlist(ctx context.Context, id string) (models.Watchlist, error) {
	var out models.Watchlist
	err := c.do(ctx, http.MethodGet, "/v1/watchlists/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateWatchlist creates an empty watchlist.
func (c *Client) CreateWatchlist(ctx context.Context, name string) (models.Watchlist, error) {
	var out models.Watchlist
	err := c.do(ctx, http.MethodPost, "/v1/watchlists", map[string]string{"name": name}, &out)
	return out, err
}

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// AddToWatchlist adds a company to a watchlist.
func (c *Client) AddToWatchlist(ctx context.Context, watchlistID, companyID string) (StatusResponse, error) {
	var out StatusResponse
	path := "/v1/watchlists/" + url.PathEscape(watchlistID) + "/items"
	err := c.do(ctx, http.MethodPost, path, map[string]string{"company_id": companyID}, &out)
	return out, err
}

// RemoveFromWatchlist removes a company from a watchlist.
func (c *Client) RemoveFromWatchlist(ctx context.Context, watchlistID, companyID string) (StatusResponse, error) {
	var out StatusResponse
	path := "/v1/watchlists/" + url.PathEscape(watchlistID) + "/items/" + url.PathEscape(companyID)
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

// AlertRules lists alert rules.
func (c *Client) AlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var out []models.AlertRule
	err := c.do(ctx, http.MethodGet, "/v1/alerts/rules", nil, &out)
	return out, err
}

// CreateAlertRule creates an alert rule.
func (c *Client) CreateAlertRule(ctx context.Context, rule models.AlertRuleInput) (models.AlertRule, error) {
	var out models.AlertRule
	err := c.do(ctx, http.MethodPost, "/v1/alerts/rules", rule, &out)
	return out, err
}

// AlertDeliveries lists recent alert deliveries.
func (c *Client) AlertDeliveries(ctx context.Context) ([]models.AlertDelivery, error) {
	var out []models.AlertDelivery
	err := c.do(ctx, http.MethodGet, "/v1/alerts/deliveries", nil, &out)
	return out, err
}

type chatRequest struct {
	Message   string  `json:"message"`
	CompanyID *string `json:"company_id"`
}

// Chat asks the assistant a question, optionally scoped to one company.
func (c *Client) Chat(ctx context.Context, message, companyID string) (models.ChatResponse, error) {
	req := chatRequest{Message: message}
	if companyID != "" {
		req.CompanyID = &companyID
	}
	var out models.ChatResponse
	err := c.do(ctx, http.MethodPost, "/v1/chat", req, &out)
	return out, err
}

// IngestEvent submits an event for scoring.
func (c *Client) IngestEvent(ctx context.Context, event models.EventInput) (models.IngestResult, error) {
	var out models.IngestResult
	err := c.do(ctx, http.MethodPost, "/v1/ingest/events", event, &out)
	return out, err
}
