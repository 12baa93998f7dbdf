package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"esgwatch/internal/models"
)

// AlertRules prints server-side alert rules.
func (a *App) AlertRules(ctx context.Context) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	rules, err := a.newClient(sess).AlertRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(a.Out, "no alert rules")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tCompany\tCondition\tThreshold\tCategory\tChannels\tActive")
	for _, r := range rules {
		category := r.CategoryFilter
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%g\t%s\t%s\t%t\n",
			r.ID, sanitizeInline(r.Name), optional(r.CompanyID), r.ConditionType, r.Threshold, category, strings.Join(r.Channels, ","), r.IsActive)
	}
	return writer.Flush()
}

// CreateAlertRule validates and submits a new rule.
func (a *App) CreateAlertRule(ctx context.Context, input models.AlertRuleInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return errors.New("rule name is required")
	}
	if input.ConditionType == "" {
		return errors.New("condition type is required")
	}
	if input.CategoryFilter != "" && !models.Category(input.CategoryFilter).Valid() {
		return fmt.Errorf("unknown category %q", input.CategoryFilter)
	}
	if len(input.Channels) == 0 {
		input.Channels = []string{"email"}
	}

	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	rule, err := a.newClient(sess).CreateAlertRule(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "created alert rule %s (%s)\n", rule.Name, rule.ID)
	return nil
}

// AlertDeliveries prints recent deliveries.
func (a *App) AlertDeliveries(ctx context.Context) error {
	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	deliveries, err := a.newClient(sess).AlertDeliveries(ctx)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		fmt.Fprintln(a.Out, "no alert deliveries")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Delivered (UTC)\tRule\tEvent\tChannel\tStatus")
	for _, d := range deliveries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", formatTime(d.DeliveredAt.Time), d.RuleID, optional(d.EventID), d.Channel, d.Status)
	}
	return writer.Flush()
}
