package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerBuild sync.Once
	startedAt     = time.Now()

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgm_build_info",
		Help: "Console build labels; the value is always 1.",
	}, []string{"version", "commit", "go_version"})

	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pgm_start_time_seconds",
		Help: "Unix time the console process started.",
	})
)

// InitBuildInfo publishes the build labels and process start time.
// Safe to call more than once; later calls only update the labels.
func InitBuildInfo(version, commit string) {
	registerBuild.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
		startTime.Set(float64(startedAt.Unix()))
	})
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Uptime reports how long the process has been running.
func Uptime() time.Duration { return time.Since(startedAt).Truncate(time.Second) }
