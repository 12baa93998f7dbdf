package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"esgwatch/internal/api"
	"esgwatch/internal/models"
	"esgwatch/internal/service"
)

// Companies lists tracked companies, optionally filtered by query.
func (a *App) Companies(ctx context.Context, query string) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	companies, err := a.newClient(sess).Companies(ctx, query)
	if err != nil {
		return err
	}
	if len(companies) == 0 {
		fmt.Fprintln(a.Out, "no companies found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tTicker\tSector\tCountry")
	for _, c := range companies {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", c.ID, sanitizeInline(c.Name), optional(c.Ticker), optional(c.Sector), optional(c.Country))
	}
	return writer.Flush()
}

// Company loads one company through the dashboard service and prints its
// latest score, score history and events.
func (a *App) Company(ctx context.Context, companyID string, opts CompanyOptions) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	client := a.newClient(sess)
	store := a.newStore()
	svc := service.New(service.Options{Range: opts.Range}, service.Deps{Backend: client, Store: store}, a.Logger)

	company, err := client.Company(ctx, companyID)
	if err != nil {
		return err
	}
	if err := svc.LoadCompany(ctx, companyID, opts.Range); err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "%s (%s)\n", company.Name, optional(company.Ticker))
	if company.Sector != nil || company.Country != nil {
		fmt.Fprintf(a.Out, "%s, %s\n", optional(company.Sector), optional(company.Country))
	}
	if desc := strings.TrimSpace(company.Description); desc != "" {
		fmt.Fprintln(a.Out, sanitizeInline(desc))
	}
	fmt.Fprintln(a.Out)

	if latest, ok := store.LatestScore(companyID); ok {
		fmt.Fprintf(a.Out, "Latest: %s  E %s  S %s  G %s  risk %s  (%s)\n",
			latest.Overall.StringFixed(1),
			latest.Environmental.StringFixed(1),
			latest.Social.StringFixed(1),
			latest.Governance.StringFixed(1),
			latest.RiskLevel,
			formatTime(latest.RecordedAt.Time),
		)
	} else {
		fmt.Fprintln(a.Out, "Latest: no score recorded")
	}
	history, _ := store.ScoreHistory(companyID)
	fmt.Fprintf(a.Out, "History: %d scores\n\n", len(history))

	events, _ := store.Events(companyID)
	events = filterSeverity(events, opts.SeverityGTE)
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no events in range")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date (UTC)\tSeverity\tCategory\tSentiment\tTitle")
	for _, ev := range events {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n", formatTime(ev.EventDate.Time), ev.Severity, ev.Category, ev.Sentiment, sanitizeInline(ev.Title))
	}
	return writer.Flush()
}

func filterSeverity(events []models.ESGEvent, min int) []models.ESGEvent {
	if min <= 0 {
		return events
	}
	out := make([]models.ESGEvent, 0, len(events))
	for _, ev := range events {
		if ev.Severity >= min {
			out = append(out, ev)
		}
	}
	return out
}

func optional(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

var _ service.Backend = (*api.Client)(nil)
