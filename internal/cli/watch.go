package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"esgwatch/internal/app"
)

var (
	feedLimit   int
	feedCompany string
	feedLatest  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live score updates until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context())
	},
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Display recorded live updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Feed(cmd.Context(), app.FeedOptions{Limit: feedLimit, CompanyID: feedCompany, Latest: feedLatest})
	},
}

func init() {
	feedCmd.Flags().IntVar(&feedLimit, "limit", 50, "Number of updates to display")
	feedCmd.Flags().StringVar(&feedCompany, "company", "", "Only show updates for this company id")
	feedCmd.Flags().BoolVar(&feedLatest, "latest", false, "Show the recorded latest score per company")
}
