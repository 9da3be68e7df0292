package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/util"
)

// Line is one labelled series on a chart.
type Line struct {
	Label  string
	Points []Point
}

// ChartSpec describes one rendered chart. Width and Height are in inches.
type ChartSpec struct {
	File   string
	Title  string
	YLabel string
	Width  float64
	Height float64
	Lines  []Line
}

// Render draws spec as a PNG under dir and returns the written path.
// Lines without points are left off the chart.
func Render(dir string, spec ChartSpec) (string, error) {
	p := plot.New()
	p.Title.Text = spec.Title
	p.Y.Label.Text = spec.YLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, line := range spec.Lines {
		if len(line.Points) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(line.Points))
		for j, pt := range line.Points {
			xys[j].X = float64(pt.Time.Unix())
			xys[j].Y = pt.Value
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return "", fmt.Errorf("chart %s line %s: %w", spec.File, line.Label, err)
		}
		l.LineStyle.Color = plotutil.Color(i)
		l.LineStyle.Width = vg.Points(1.2)
		p.Add(l)
		p.Legend.Add(line.Label, l)
		drawn++
	}
	if drawn == 0 {
		return "", fmt.Errorf("chart %s: no data", spec.File)
	}

	width, height := spec.Width, spec.Height
	if width <= 0 {
		width = 10
	}
	if height <= 0 {
		height = 5
	}
	wt, err := p.WriterTo(vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("chart %s: %w", spec.File, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("chart %s: encode: %w", spec.File, err)
	}

	path := filepath.Join(dir, spec.File)
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
