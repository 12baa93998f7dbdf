package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"esgwatch/internal/models"
)

var (
	chatCompany       string
	ingestTitle       string
	ingestDescription string
	ingestSourceURL   string
	ingestCategory    string
)

var chatCmd = &cobra.Command{
	Use:   "chat <question...>",
	Short: "Ask the ESG assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chat(cmd.Context(), strings.Join(args, " "), chatCompany)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <company-id>",
	Short: "Submit an ESG event for scoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Ingest(cmd.Context(), models.EventInput{
			CompanyID:   args[0],
			Title:       ingestTitle,
			Description: ingestDescription,
			SourceURL:   ingestSourceURL,
			Category:    models.Category(ingestCategory),
		})
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatCompany, "company", "", "Scope the question to one company id")

	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Event title")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "Event description")
	ingestCmd.Flags().StringVar(&ingestSourceURL, "source-url", "", "Source article URL")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "environmental, social or governance")
	_ = ingestCmd.MarkFlagRequired("title")
}
