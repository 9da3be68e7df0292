package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/config"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/logging"
)

var majorAreas = []struct{ label, area string }{
	{"United States", "US"},
	{"Euro area", "XM"},
	{"United Kingdom", "GB"},
	{"Japan", "JP"},
}

// DefaultCharts is the chart set rendered when the configuration names none.
func DefaultCharts() []config.ChartConfig {
	exr := config.ChartConfig{
		File:    "exchange_rates.png",
		Title:   "Exchange rates, national currency per US dollar",
		YLabel:  "per USD",
		Dataset: "exr",
		From:    "2000-01",
	}
	cpi := config.ChartConfig{
		File:    "consumer_prices.png",
		Title:   "Consumer prices",
		YLabel:  "index, first common period = 100",
		Dataset: "cp",
		From:    "2000-01",
		Rebase:  true,
	}
	pol := config.ChartConfig{
		File:    "policy_rates.png",
		Title:   "Central bank policy rates",
		YLabel:  "percent",
		Dataset: "pr",
		From:    "2000-01",
	}
	for _, a := range majorAreas {
		if a.area != "US" {
			exr.Series = append(exr.Series, config.SeriesConfig{Label: a.label, Area: a.area, Frequency: "M", Unit: "A"})
		}
		cpi.Series = append(cpi.Series, config.SeriesConfig{Label: a.label, Area: a.area, Frequency: "M", Unit: "628"})
		pol.Series = append(pol.Series, config.SeriesConfig{Label: a.label, Area: a.area, Frequency: "M"})
	}
	return []config.ChartConfig{exr, cpi, pol}
}

// Reporter renders the configured charts.
type Reporter struct {
	querier *Querier
	cfg     config.ReportConfig
	log     *slog.Logger
}

// New creates a reporter. An empty chart list falls back to DefaultCharts.
func New(q *Querier, cfg config.ReportConfig) *Reporter {
	if len(cfg.Charts) == 0 {
		cfg.Charts = DefaultCharts()
	}
	return &Reporter{querier: q, cfg: cfg, log: logging.Component("report")}
}

// Generate renders every chart and returns the written paths. Charts of
// datasets the querier does not know are skipped, as are charts whose series
// are all empty.
func (r *Reporter) Generate(ctx context.Context) ([]string, error) {
	var written []string
	for _, chart := range r.cfg.Charts {
		if _, ok := dataset.Lookup(r.querier.descs, chart.Dataset); !ok {
			r.log.Info("chart skipped, dataset not selected", "file", chart.File, "dataset", chart.Dataset)
			continue
		}
		spec, err := r.Build(ctx, chart)
		if err != nil {
			return written, err
		}
		if !hasPoints(spec) {
			r.log.Warn("chart has no data", "file", chart.File, "dataset", chart.Dataset)
			continue
		}
		path, err := Render(r.cfg.ChartDir, spec)
		if err != nil {
			return written, err
		}
		r.log.Info("chart written", "file", path, "lines", len(spec.Lines))
		written = append(written, path)
	}
	return written, nil
}

// Build queries every series of chart and applies rebasing when asked.
func (r *Reporter) Build(ctx context.Context, chart config.ChartConfig) (ChartSpec, error) {
	spec := ChartSpec{
		File:   chart.File,
		Title:  chart.Title,
		YLabel: chart.YLabel,
		Width:  r.cfg.Width,
		Height: r.cfg.Height,
	}

	var all [][]Point
	for _, s := range chart.Series {
		points, err := r.querier.Series(ctx, SeriesQuery{
			Dataset:   chart.Dataset,
			Area:      s.Area,
			Frequency: s.Frequency,
			Unit:      s.Unit,
			From:      chart.From,
			To:        chart.To,
		})
		if err != nil {
			return ChartSpec{}, fmt.Errorf("chart %s: %w", chart.File, err)
		}
		if len(points) == 0 {
			r.log.Warn("series has no observations", "file", chart.File, "series", s.Label)
		} else {
			sum := Summarize(points)
			r.log.Debug("series loaded", "series", s.Label,
				"count", sum.Count, "first", sum.First, "last", sum.Last,
				"mean", sum.Mean, "stddev", sum.StdDev)
		}
		spec.Lines = append(spec.Lines, Line{Label: s.Label, Points: points})
		all = append(all, points)
	}

	if chart.Rebase {
		if base, ok := FirstCommonPeriod(nonEmpty(all)); ok {
			r.rebase(&spec, base)
		} else {
			r.log.Warn("no common period, chart left unrebased", "file", chart.File)
		}
	}

	if chart.Change {
		for i, line := range spec.Lines {
			spec.Lines[i].Points = PercentChange(line.Points)
		}
	}
	return spec, nil
}

// rebase scales every non-empty line of spec to 100 at base.
func (r *Reporter) rebase(spec *ChartSpec, base string) {
	for i, line := range spec.Lines {
		if len(line.Points) == 0 {
			continue
		}
		rebased, err := Rebase(line.Points, base)
		if err != nil {
			r.log.Warn("rebase failed", "file", spec.File, "series", line.Label, "error", err)
			continue
		}
		spec.Lines[i].Points = rebased
	}
}

func hasPoints(spec ChartSpec) bool {
	for _, l := range spec.Lines {
		if len(l.Points) > 0 {
			return true
		}
	}
	return false
}

func nonEmpty(series [][]Point) [][]Point {
	var out [][]Point
	for _, s := range series {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}
