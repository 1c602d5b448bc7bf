package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/okello/airlift/internal/notify"
	"github.com/okello/airlift/internal/timer"
)

// DebugHandler exposes a point-in-time snapshot of the engine's moving
// parts. Intended for operators poking at a wedged deployment, not for
// dashboards; Prometheus has the time series.
type DebugHandler struct {
	timers *timer.Service
	sink   *notify.Sink
}

// NewDebugHandler creates a debug handler.
func NewDebugHandler(timers *timer.Service, sink *notify.Sink) *DebugHandler {
	return &DebugHandler{timers: timers, sink: sink}
}

// EngineStatus handles GET /debug/engine
func (h *DebugHandler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	backlog, err := h.timers.Backlog(r.Context())
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"observed_at":        time.Now().UTC(),
		"timer_backlog":      backlog,
		"notify_queue_depth": h.sink.Depth(),
		"timer_firings":      timerFirings(),
	})
}

// timerFirings reads the firing counters back out of the default Prometheus
// registry, keyed "<kind>/<outcome>".
func timerFirings() map[string]float64 {
	out := make(map[string]float64)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != "airlift_timer_firings_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var parts []string
			for _, l := range m.GetLabel() {
				parts = append(parts, l.GetValue())
			}
			out[strings.Join(parts, "/")] = m.GetCounter().GetValue()
		}
	}
	return out
}
