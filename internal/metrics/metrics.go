package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FarmHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "hashrate",
		Help:      "Total farm hash rate in H/s.",
	})

	WorkerHashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "worker_hashrate",
		Help:      "Per-worker hash rate in H/s.",
	}, []string{"device"})

	WorkerHashratePeak = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "worker_hashrate_peak",
		Help:      "Per-worker peak hash rate in H/s.",
	}, []string{"device"})

	WorkerTemperature = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "worker_temperature_celsius",
		Help:      "Per-worker device temperature.",
	}, []string{"device"})

	WorkerFan = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "worker_fan_percent",
		Help:      "Per-worker fan speed.",
	}, []string{"device"})

	Workers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "workers",
		Help:      "Number of registered workers.",
	})

	DeadWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "dead_workers",
		Help:      "Number of registered workers reporting stopped.",
	})

	Mining = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "mining",
		Help:      "1 while the farm is mining.",
	})

	SolutionsAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigfarm",
		Name:      "solutions_accepted_total",
		Help:      "Solutions accepted by the remote authority.",
	}, []string{"device"})

	SolutionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigfarm",
		Name:      "solutions_rejected_total",
		Help:      "Solutions rejected by the remote authority.",
	}, []string{"device"})

	ConsecutiveRejections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "consecutive_rejections",
		Help:      "Length of the current rejection streak.",
	})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigfarm",
		Name:      "submissions_total",
		Help:      "Submission callback invocations by result.",
	}, []string{"result"})

	SubmissionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rigfarm",
		Name:      "submissions_in_flight",
		Help:      "Submission tasks not yet reclaimed.",
	})

	SubmitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rigfarm",
		Name:      "submit_duration_seconds",
		Help:      "Time spent inside the submission callback.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	WorkUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rigfarm",
		Name:      "work_updates_total",
		Help:      "Work packages pushed to the farm, by kind (new, resume).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		FarmHashrate,
		WorkerHashrate,
		WorkerHashratePeak,
		WorkerTemperature,
		WorkerFan,
		Workers,
		DeadWorkers,
		Mining,
		SolutionsAccepted,
		SolutionsRejected,
		ConsecutiveRejections,
		Submissions,
		SubmissionsInFlight,
		SubmitDuration,
		WorkUpdates,
	)
}

// DeviceLabel formats a device index as a metric label.
func DeviceLabel(index int) string {
	return strconv.Itoa(index)
}

// ResetWorkers drops every per-worker series, used when the worker set
// changes so stale devices disappear from scrapes.
func ResetWorkers() {
	WorkerHashrate.Reset()
	WorkerHashratePeak.Reset()
	WorkerTemperature.Reset()
	WorkerFan.Reset()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
