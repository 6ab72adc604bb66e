package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the decode and
// visualization workers. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	tasksExecuted  *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	tasksDropped   *prometheus.CounterVec
	tasksPending   *prometheus.GaugeVec
	streamsLoaded  *prometheus.GaugeVec
	spectroBlocks  prometheus.Gauge
	bandFramesDone prometheus.Counter
	httpRequests   *prometheus.CounterVec
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subsync_tasks_executed_total",
			Help: "Tasks run to completion by a worker queue",
		}, []string{"queue"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subsync_tasks_failed_total",
			Help: "Tasks that returned an error or panicked",
		}, []string{"queue"}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subsync_tasks_dropped_total",
			Help: "Pending tasks discarded by ClearPending",
		}, []string{"queue"}),
		tasksPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subsync_tasks_pending",
			Help: "Tasks waiting in a worker queue",
		}, []string{"queue"}),
		streamsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subsync_streams_loaded",
			Help: "Streams present in a registry",
		}, []string{"kind"}),
		spectroBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subsync_spectrogram_blocks_cached",
			Help: "Spectrogram columns held in memory",
		}),
		bandFramesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subsync_band_frames_decoded_total",
			Help: "Video frames decoded into band strips",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subsync_http_requests_total",
			Help: "HTTP requests by status class",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.tasksExecuted,
		m.tasksFailed,
		m.tasksDropped,
		m.tasksPending,
		m.streamsLoaded,
		m.spectroBlocks,
		m.bandFramesDone,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) TaskExecuted(queue string) {
	if m == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(queue).Inc()
}

func (m *Metrics) TaskFailed(queue string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(queue).Inc()
}

func (m *Metrics) TasksDropped(queue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksDropped.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) SetPending(queue string, n int) {
	if m == nil {
		return
	}
	m.tasksPending.WithLabelValues(queue).Set(float64(n))
}

func (m *Metrics) SetStreams(kind string, n int) {
	if m == nil {
		return
	}
	m.streamsLoaded.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SetSpectrogramBlocks(n int) {
	if m == nil {
		return
	}
	m.spectroBlocks.Set(float64(n))
}

func (m *Metrics) AddBandFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bandFramesDone.Add(float64(n))
}

func (m *Metrics) IncRequests(code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
