// Package report renders training results as an HTML chart page and an
// xlsx workbook.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/xuri/excelize/v2"

	"github.com/danielpatrickdp/abstract-rmax/internal/snapshot"
	"github.com/danielpatrickdp/abstract-rmax/internal/trainer"
)

// Sheet names of the workbook.
const (
	EpisodeSheet    = "Episodes"
	EvaluationSheet = "Evaluations"
	ValueSheet      = "Values"
)

// Paths lists the files written by Write.
type Paths struct {
	Chart    string
	Workbook string
}

// #region write
// Write renders both reports into dir as <name>.html and <name>.xlsx. snap
// may be nil.
func Write(dir, name string, res trainer.Result, snap *snapshot.Snapshot) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create report dir: %w", err)
	}
	paths := Paths{
		Chart:    filepath.Join(dir, name+".html"),
		Workbook: filepath.Join(dir, name+".xlsx"),
	}

	f, err := os.Create(paths.Chart)
	if err != nil {
		return Paths{}, fmt.Errorf("create chart: %w", err)
	}
	if err := WriteChart(f, name, res); err != nil {
		f.Close()
		return Paths{}, err
	}
	if err := f.Close(); err != nil {
		return Paths{}, fmt.Errorf("close chart: %w", err)
	}

	if err := WriteWorkbook(paths.Workbook, res, snap); err != nil {
		return Paths{}, err
	}
	return paths, nil
}
// #endregion write

// #region chart
// WriteChart renders the episode reward curve and the evaluation curve,
// both against cumulative primitive steps.
func WriteChart(w io.Writer, title string, res trainer.Result) error {
	episodes := charts.NewLine()
	episodes.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "episode reward"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: "shine"}),
	)
	steps := make([]string, len(res.Episodes))
	rewards := make([]opts.LineData, len(res.Episodes))
	for i, row := range res.Episodes {
		steps[i] = strconv.Itoa(row.Step)
		rewards[i] = opts.LineData{Value: row.Reward}
	}
	episodes.SetXAxis(steps).AddSeries("reward", rewards)

	evals := charts.NewLine()
	evals.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "evaluation mean reward"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: "shine"}),
	)
	evalSteps := make([]string, len(res.Evaluations))
	means := make([]opts.LineData, len(res.Evaluations))
	for i, row := range res.Evaluations {
		evalSteps[i] = strconv.Itoa(row.Step)
		means[i] = opts.LineData{Value: row.MeanReward}
	}
	evals.SetXAxis(evalSteps).AddSeries("mean reward", means)

	page := components.NewPage()
	page.AddCharts(episodes, evals)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
// #endregion chart

// #region workbook
// WriteWorkbook saves episode rows, evaluation rows and, when snap is not
// nil, the value of every abstract state.
func WriteWorkbook(path string, res trainer.Result, snap *snapshot.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []string{EpisodeSheet, EvaluationSheet}
	if snap != nil {
		sheets = append(sheets, ValueSheet)
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s); err != nil {
			return fmt.Errorf("new sheet %s: %w", s, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	w := sheetWriter{f: f}
	w.row(EpisodeSheet, 1, []any{"Episode", "Step", "Steps", "Options", "Reward", "New states", "Teleports", "Seconds"})
	for i, r := range res.Episodes {
		w.row(EpisodeSheet, i+2, []any{r.Episode, r.Step, r.Steps, r.Options, r.Reward, r.NewStates, r.Teleports, r.Duration.Seconds()})
	}

	w.row(EvaluationSheet, 1, []any{"Step", "Episodes", "Mean reward", "Best"})
	for i, r := range res.Evaluations {
		w.row(EvaluationSheet, i+2, []any{r.Step, r.Episodes, r.MeanReward, r.Best})
	}

	if snap != nil {
		w.row(ValueSheet, 1, []any{"State", "Value", "Evaluation value"})
		for i, key := range snap.StateKeys {
			w.row(ValueSheet, i+2, []any{key, snap.Values[i], snap.EvalValues[i]})
		}
	}
	if w.err != nil {
		return w.err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) row(sheet string, n int, values []any) {
	if w.err != nil {
		return
	}
	if err := w.f.SetSheetRow(sheet, fmt.Sprintf("A%d", n), &values); err != nil {
		w.err = fmt.Errorf("write %s row %d: %w", sheet, n, err)
	}
}
// #endregion workbook
