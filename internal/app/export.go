package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"esgwatch/internal/models"
)

// Export renders a company's score history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.CompanyID == "" {
		return errors.New("company id is required")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Range == "" {
		opts.Range = a.Config.Dashboard.Range
	}

	sess, err := a.authedSession()
	if err != nil {
		return err
	}
	scores, err := a.newClient(sess).Scores(ctx, opts.CompanyID, opts.Range)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		a.Logger.Info().Str("company_id", opts.CompanyID).Str("range", opts.Range).Msg("no scores found for export window")
		return nil
	}

	downsampled := downsampleScores(scores, opts.MaxPoints)
	a.Logger.Info().Int("total", len(scores)).Int("exported", len(downsampled)).Msg("exporting scores")

	if opts.CSVPath != "" {
		if err := writeScoresCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeScoresPNG(opts.PNGPath, opts.CompanyID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleScores(scores []models.ESGScore, max int) []models.ESGScore {
	if max <= 0 || len(scores) <= max {
		return scores
	}
	if max == 1 {
		return scores[len(scores)-1:]
	}

	result := make([]models.ESGScore, 0, max)
	step := float64(len(scores)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(scores) {
			idx = len(scores) - 1
		}
		result = append(result, scores[idx])
	}
	return result
}

func writeScoresCSV(path string, scores []models.ESGScore) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"recorded_at", "company_id", "overall", "environmental", "social", "governance", "risk_level"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, score := range scores {
		record := []string{
			formatTime(score.RecordedAt.Time),
			score.CompanyID,
			score.Overall.String(),
			score.Environmental.String(),
			score.Social.String(),
			score.Governance.String(),
			string(score.RiskLevel),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeScoresPNG(path, companyID string, scores []models.ESGScore) error {
	if len(scores) < 2 {
		return errors.New("at least two scores are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(scores))
	overall := make([]float64, len(scores))
	env := make([]float64, len(scores))
	social := make([]float64, len(scores))
	governance := make([]float64, len(scores))

	for i, score := range scores {
		x[i] = score.RecordedAt.Time
		overall[i] = score.Overall.InexactFloat64()
		env[i] = score.Environmental.InexactFloat64()
		social[i] = score.Social.InexactFloat64()
		governance[i] = score.Governance.InexactFloat64()
	}

	scoreFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  "ESG score " + companyID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Score",
			ValueFormatter: scoreFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Overall", XValues: x, YValues: overall},
			chart.TimeSeries{Name: "Environmental", XValues: x, YValues: env},
			chart.TimeSeries{Name: "Social", XValues: x, YValues: social},
			chart.TimeSeries{Name: "Governance", XValues: x, YValues: governance},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
