package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Watchlists prints every watchlist with its members.
func (a *App) Watchlists(ctx context.Context) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	lists, err := a.newClient(sess).Watchlists(ctx)
	if err != nil {
		return err
	}
	if len(lists) == 0 {
		fmt.Fprintln(a.Out, "no watchlists")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tCompanies\tCreated (UTC)")
	for _, wl := range lists {
		ids := make([]string, 0, len(wl.Items))
		for _, item := range wl.Items {
			ids = append(ids, item.CompanyID)
		}
		members := strings.Join(ids, ",")
		if members == "" {
			members = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", wl.ID, sanitizeInline(wl.Name), members, formatTime(wl.CreatedAt.Time))
	}
	return writer.Flush()
}

// CreateWatchlist creates an empty watchlist.
func (a *App) CreateWatchlist(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("watchlist name is required")
	}
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	wl, err := a.newClient(sess).CreateWatchlist(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "created watchlist %s (%s)\n", wl.Name, wl.ID)
	return nil
}

// AddToWatchlist adds companyID unless the watchlist already holds it.
func (a *App) AddToWatchlist(ctx context.Context, watchlistID, companyID string) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	client := a.newClient(sess)

	wl, err := client.Watchlist(ctx, watchlistID)
	if err != nil {
		return err
	}
	if wl.Contains(companyID) {
		fmt.Fprintf(a.Out, "%s is already in %s\n", companyID, wl.Name)
		return nil
	}
	resp, err := client.AddToWatchlist(ctx, watchlistID, companyID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "added %s to %s (%s)\n", companyID, wl.Name, resp.Status)
	return nil
}

// RemoveFromWatchlist removes companyID from a watchlist.
func (a *App) RemoveFromWatchlist(ctx context.Context, watchlistID, companyID string) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	resp, err := a.newClient(sess).RemoveFromWatchlist(ctx, watchlistID, companyID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "removed %s from %s (%s)\n", companyID, watchlistID, resp.Status)
	return nil
}
