package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"esgwatch/internal/storage"
)

// Feed prints recorded live updates, newest first.
func (a *App) Feed(ctx context.Context, opts FeedOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show recorded live updates")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Latest {
		latest, err := store.ListLatestScores(ctx)
		if err != nil {
			return err
		}
		return writeLatestScores(a.Out, latest)
	}

	var records []storage.LiveUpdateRecord
	if opts.CompanyID != "" {
		records, err = store.ListCompanyLiveUpdates(ctx, opts.CompanyID, opts.Limit)
	} else {
		records, err = store.ListRecentLiveUpdates(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no live updates recorded")
		return nil
	}

	total, err := store.CountLiveUpdates(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Received (UTC)\tCompany\tOverall\tRisk\tSeverity\tCategory\tEvent")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ReceivedAt.UTC().Format(time.RFC3339),
			rec.CompanyID,
			rec.Overall.StringFixed(1),
			rec.RiskLevel,
			rec.Severity,
			rec.Category,
			sanitizeInline(rec.EventTitle),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "showing %d of %d recorded updates\n", len(records), total)
	return nil
}

func writeLatestScores(out io.Writer, records []storage.LatestScoreRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no latest scores recorded")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Company\tOverall\tE\tS\tG\tRisk\tSource\tRecorded (UTC)")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.CompanyID,
			rec.Overall.StringFixed(1),
			rec.Environmental.StringFixed(1),
			rec.Social.StringFixed(1),
			rec.Governance.StringFixed(1),
			rec.RiskLevel,
			rec.Source,
			rec.RecordedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}
