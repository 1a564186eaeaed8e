package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ziziccc/embedded-prj3/internal/httputil"
)

// handleLabelChart renders label counts per capture as a stacked bar chart
// plus the overall tally. Debug only.
// Query params:
//   - captures (optional; default 50) number of newest captures to chart
func (s *Server) handleLabelChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, err := queryLimit(r, "captures", 50, 2000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	classes := s.capturer.Config().Classifier.ClassNames
	hist, err := s.store.LabelHistory(classes, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(hist.Captures) == 0 {
		httputil.NotFound(w, "no captures stored yet")
		return
	}

	x := make([]string, len(hist.Captures))
	for i, c := range hist.Captures {
		x[i] = c.Started.Format("01-02 15:04:05")
	}
	history := charts.NewBar()
	history.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Seat occupancy", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Labels per capture", Subtitle: fmt.Sprintf("%d captures", len(x))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	history.SetXAxis(x)
	for _, class := range classes {
		counts := hist.Counts[class]
		data := make([]opts.BarData, len(counts))
		for i, n := range counts {
			data[i] = opts.BarData{Value: n}
		}
		history.AddSeries(class, data, charts.WithBarChartOpts(opts.BarChart{Stack: "labels"}))
	}

	totals := make(map[string]int, len(classes))
	for _, class := range classes {
		for _, n := range hist.Counts[class] {
			totals[class] += n
		}
	}
	names := append([]string(nil), classes...)
	sort.SliceStable(names, func(i, j int) bool { return totals[names[i]] > totals[names[j]] })
	tally := make([]opts.BarData, len(names))
	for i, n := range names {
		tally[i] = opts.BarData{Value: totals[n]}
	}
	overall := charts.NewBar()
	overall.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Label totals"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	overall.SetXAxis(names).
		AddSeries("tiles", tally, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.AddCharts(history, overall)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
