package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"esgwatch/internal/models"
)

// Chat asks the assistant and prints the answer with its citations.
func (a *App) Chat(ctx context.Context, message, companyID string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("message is required")
	}
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	resp, err := a.newClient(sess).Chat(ctx, message, companyID)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, strings.TrimSpace(resp.Answer))
	if len(resp.Citations) > 0 {
		fmt.Fprintln(a.Out)
		for _, c := range resp.Citations {
			line := fmt.Sprintf("[%d] %s", c.Idx, sanitizeInline(c.Title))
			if c.URL != "" {
				line += " " + c.URL
			}
			if c.TS != nil && !c.TS.IsZero() {
				line += " (" + c.TS.UTC().Format("2006-01-02") + ")"
			}
			fmt.Fprintln(a.Out, line)
		}
	}
	return nil
}

// Ingest submits an event for scoring.
func (a *App) Ingest(ctx context.Context, input models.EventInput) error {
	if input.CompanyID == "" || strings.TrimSpace(input.Title) == "" {
		return errors.New("company id and title are required")
	}
	if input.Category != "" && !input.Category.Valid() {
		return fmt.Errorf("unknown category %q", input.Category)
	}
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	result, err := a.newClient(sess).IngestEvent(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "event %s %s\n", result.EventID, result.Status)
	return nil
}
