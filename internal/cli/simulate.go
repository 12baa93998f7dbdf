package cli

import (
	"github.com/spf13/cobra"

	"esgwatch/internal/app"
)

var (
	simulateCompany  string
	simulateTitle    string
	simulateSeverity int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条实时更新并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			CompanyID: simulateCompany,
			Title:     simulateTitle,
			Severity:  simulateSeverity,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCompany, "company", "", "公司 ID")
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "", "事件标题")
	simulateCmd.Flags().IntVar(&simulateSeverity, "severity", 0, "事件严重度 (默认取 alerting.min_severity)")
}
