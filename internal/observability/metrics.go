package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dmftctl",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Completed self-consistency iterations.",
		},
		[]string{"solver"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dmftctl",
			Subsystem: "loop",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one loop phase in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
	solveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dmftctl",
			Subsystem: "solver",
			Name:      "solve_duration_seconds",
			Help:      "Impurity solve duration per subspace in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"solver", "subspace"},
	)
	checkpointWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dmftctl",
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Archive write attempts.",
		},
		[]string{"entry", "success"},
	)
	chemicalPotential = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dmftctl",
			Subsystem: "loop",
			Name:      "chemical_potential",
			Help:      "Chemical potential of the last iteration.",
		},
	)
	sigmaResidual = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dmftctl",
			Subsystem: "loop",
			Name:      "sigma_residual",
			Help:      "max |Sigma_k - Sigma_k-1| of the last iteration.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(iterations, phaseDuration, solveDuration, checkpointWrites,
			chemicalPotential, sigmaResidual)
	})
}

func RecordIteration(solver string, mu float64) {
	RegisterMetrics()
	iterations.WithLabelValues(solver).Inc()
	chemicalPotential.Set(mu)
}

func RecordPhase(phase string, duration time.Duration) {
	RegisterMetrics()
	phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func RecordSolve(solver string, subspace int, duration time.Duration) {
	RegisterMetrics()
	solveDuration.WithLabelValues(solver, strconv.Itoa(subspace)).Observe(duration.Seconds())
}

func RecordCheckpointWrite(entry string, success bool) {
	RegisterMetrics()
	checkpointWrites.WithLabelValues(entry, strconv.FormatBool(success)).Inc()
}

func RecordResidual(r float64) {
	RegisterMetrics()
	sigmaResidual.Set(r)
}
