package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"esgwatch/internal/models"
)

var (
	ruleCompany   string
	ruleCondition string
	ruleThreshold float64
	ruleCategory  string
	ruleChannels  []string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and manage server-side alert rules",
}

var alertsRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertRules(cmd.Context())
	},
}

var alertsCreateRuleCmd = &cobra.Command{
	Use:   "create-rule <name>",
	Short: "Create an alert rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ruleThreshold < 0 {
			return errors.New("--threshold cannot be negative")
		}
		return getApp().CreateAlertRule(cmd.Context(), models.AlertRuleInput{
			Name:           args[0],
			CompanyID:      ruleCompany,
			ConditionType:  ruleCondition,
			Threshold:      ruleThreshold,
			CategoryFilter: ruleCategory,
			Channels:       ruleChannels,
		})
	},
}

var alertsDeliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "List recent alert deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertDeliveries(cmd.Context())
	},
}

func init() {
	alertsCreateRuleCmd.Flags().StringVar(&ruleCompany, "company", "", "Restrict the rule to one company id")
	alertsCreateRuleCmd.Flags().StringVar(&ruleCondition, "condition", "severity_gte", "Condition type evaluated by the backend")
	alertsCreateRuleCmd.Flags().Float64Var(&ruleThreshold, "threshold", 7, "Condition threshold")
	alertsCreateRuleCmd.Flags().StringVar(&ruleCategory, "category", "", "environmental, social or governance")
	alertsCreateRuleCmd.Flags().StringSliceVar(&ruleChannels, "channel", nil, "Delivery channel (repeatable)")

	alertsCmd.AddCommand(alertsRulesCmd, alertsCreateRuleCmd, alertsDeliveriesCmd)
}
