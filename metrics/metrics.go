// Package metrics exposes Prometheus counters for agent sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the coder counters. It satisfies agentloop.MetricsRecorder.
type Recorder struct {
	iterations    prometheus.Counter
	modelRequests *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	sessions      *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coder_iterations_total",
			Help: "Agent loop iterations started.",
		}),
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coder_model_requests_total",
			Help: "Inference requests by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coder_tool_calls_total",
			Help: "Tool invocations by tool and envelope status.",
		}, []string{"tool", "status"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coder_sessions_total",
			Help: "Finished sessions by terminal state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(r.iterations, r.modelRequests, r.toolCalls, r.sessions)
	}
	return r
}

func (r *Recorder) Iteration() {
	r.iterations.Inc()
}

func (r *Recorder) ModelRequest(outcome string) {
	r.modelRequests.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ToolCall(tool, status string) {
	r.toolCalls.WithLabelValues(tool, status).Inc()
}

func (r *Recorder) SessionEnded(state string) {
	r.sessions.WithLabelValues(state).Inc()
}
