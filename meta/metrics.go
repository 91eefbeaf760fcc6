package meta

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loadCounterVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootfs_meta_load_count",
			Help: "A count of metadata verification runs.",
		},
		[]string{"status", "kind"},
	)

	stageCounterVec = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rootfs_meta_stage_count",
			Help: "A count of metadata verification stage completions.",
		},
		[]string{"stage", "status"},
	)

	stageDurationVec = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rootfs_meta_stage_duration_seconds",
			Help:    "Time spent performing a metadata verification stage.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"stage", "status"},
	)
)

func observeStage(stage string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stageCounterVec.WithLabelValues(stage, status).Inc()
	stageDurationVec.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}

func observeLoad(err error) {
	if err == nil {
		loadCounterVec.WithLabelValues("ok", "").Inc()
		return
	}
	loadCounterVec.WithLabelValues("error", Kind(err).String()).Inc()
}
