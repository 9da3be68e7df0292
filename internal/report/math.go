package report

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

var hundred = decimal.NewFromInt(100)

// Rebase scales points so the observation at base equals 100.
func Rebase(points []Point, base string) ([]Point, error) {
	var baseValue decimal.Decimal
	found := false
	for _, p := range points {
		if p.Period == base {
			baseValue = decimal.NewFromFloat(p.Value)
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("rebase: period %s not in series", base)
	}
	if baseValue.IsZero() {
		return nil, fmt.Errorf("rebase: zero value at %s", base)
	}

	out := make([]Point, len(points))
	for i, p := range points {
		v := decimal.NewFromFloat(p.Value).Div(baseValue).Mul(hundred).Round(6)
		out[i] = Point{Period: p.Period, Time: p.Time, Value: v.InexactFloat64()}
	}
	return out, nil
}

// FirstCommonPeriod returns the earliest period present in every series.
func FirstCommonPeriod(series [][]Point) (string, bool) {
	if len(series) == 0 {
		return "", false
	}
	counts := make(map[string]int)
	for _, s := range series {
		seen := make(map[string]bool, len(s))
		for _, p := range s {
			if !seen[p.Period] {
				seen[p.Period] = true
				counts[p.Period]++
			}
		}
	}
	for _, p := range series[0] {
		if counts[p.Period] == len(series) {
			return p.Period, true
		}
	}
	return "", false
}

// PercentChange returns the period-over-period change in percent. The first
// point, and any point following a zero, has no change and is omitted.
func PercentChange(points []Point) []Point {
	if len(points) < 2 {
		return nil
	}
	out := make([]Point, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := decimal.NewFromFloat(points[i-1].Value)
		if prev.IsZero() {
			continue
		}
		cur := decimal.NewFromFloat(points[i].Value)
		v := cur.Sub(prev).Div(prev).Mul(hundred).Round(6)
		out = append(out, Point{Period: points[i].Period, Time: points[i].Time, Value: v.InexactFloat64()})
	}
	return out
}

// Summary describes one series.
type Summary struct {
	Count  int
	First  string
	Last   string
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes descriptive statistics over points.
func Summarize(points []Point) Summary {
	if len(points) == 0 {
		return Summary{}
	}
	xs := make([]float64, len(points))
	s := Summary{
		Count: len(points),
		First: points[0].Period,
		Last:  points[len(points)-1].Period,
		Min:   points[0].Value,
		Max:   points[0].Value,
	}
	for i, p := range points {
		xs[i] = p.Value
		s.Min = min(s.Min, p.Value)
		s.Max = max(s.Max, p.Value)
	}
	if len(xs) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	} else {
		s.Mean = xs[0]
	}
	return s
}
