package cli

import (
	"github.com/spf13/cobra"

	"esgwatch/internal/app"
)

var (
	companiesQuery  string
	companyRange    string
	companySeverity int
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List tracked companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Companies(cmd.Context(), companiesQuery)
	},
}

var companyCmd = &cobra.Command{
	Use:   "company <id>",
	Short: "Show a company's latest score and recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Company(cmd.Context(), args[0], app.CompanyOptions{
			Range:       companyRange,
			SeverityGTE: companySeverity,
		})
	},
}

func init() {
	companiesCmd.Flags().StringVar(&companiesQuery, "query", "", "Filter companies by name or ticker")
	companyCmd.Flags().StringVar(&companyRange, "range", "", "History window such as 7d, 30d, 90d (defaults to config)")
	companyCmd.Flags().IntVar(&companySeverity, "min-severity", 0, "Only list events at or above this severity")
}
