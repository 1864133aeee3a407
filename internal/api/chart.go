package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/spinsense/internal/httputil"
)

// AttachDebugRoutes registers the detector debug pages under /debug/.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("spin-chart", "Recent angular rates against the spin threshold", s.handleRateChart)
}

// handleRateChart renders a line chart (HTML) of the rate window with the
// threshold drawn as a mark line.
func (s *Server) handleRateChart(w http.ResponseWriter, r *http.Request) {
	det := s.manager.Detector()
	cfg := det.Config()
	rates := det.RecentRates()
	st := det.State()

	xs := make([]int, len(rates))
	data := make([]opts.LineData, len(rates))
	for i, v := range rates {
		xs[i] = i - len(rates) + 1
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spin Rate", Theme: "dark", Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Angular Rate",
			Subtitle: fmt.Sprintf("samples=%d spinning=%v threshold=%.1f deg/s", len(rates), st.Spinning, cfg.Threshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rate (deg/s)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(xs).AddSeries("rate", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "threshold", YAxis: cfg.Threshold}),
	)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
