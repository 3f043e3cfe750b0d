// Package metrics registers and records Prometheus metrics for the clock
// model, the refresh scheduler and the presentation sinks (snapshot API,
// MQTT publisher, terminal display).
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Recomputes          prometheus.Counter
	RecomputeDuration   prometheus.Histogram
	SchedulerTicks      *prometheus.CounterVec
	LastUpdate          prometheus.Gauge
	Locations           prometheus.Gauge
	TimezoneFallbacks   *prometheus.CounterVec
	Redraws             *prometheus.CounterVec
	APIRequests         *prometheus.CounterVec
	APIRateLimited      prometheus.Counter
	APILatency          prometheus.Histogram
	MQTTConnected       prometheus.Gauge
	MQTTConnects        prometheus.Counter
	MQTTReconnects      prometheus.Counter
	MQTTDisconnects     prometheus.Counter
	MQTTPublishes       *prometheus.CounterVec
	MQTTPublishDuration prometheus.Histogram
	HealthServing       prometheus.Gauge

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// ResetForTesting reconfigures all metric collectors against the provided registerer.
// It unregisters the existing metrics from the previous registerer to prevent
// duplicate registrations when invoked repeatedly.
func ResetForTesting(registerer prometheus.Registerer) {
	resetMetrics(registerer)
}

func resetMetrics(registerer prometheus.Registerer) {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if currentRegisterer != nil {
		unregisterAll(currentRegisterer)
	}

	currentRegisterer = registerer
	initializeMetrics(registerer)
}

// initializeMetrics creates all metrics using the provided registerer.
// This function must be called while holding metricsMu.
func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)

	Recomputes = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "worldclock_recomputes_total",
			Help: "Total number of full recompute passes over all locations",
		},
	)

	RecomputeDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worldclock_recompute_duration_seconds",
			Help:    "Time taken by one recompute pass",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		},
	)

	SchedulerTicks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldclock_scheduler_ticks_total",
			Help: "Total number of scheduler ticks by outcome (redraw, skip)",
		},
		[]string{"result"},
	)

	LastUpdate = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "worldclock_last_update_timestamp_seconds",
			Help: "Unix time of the instant used by the most recent recompute",
		},
	)

	Locations = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "worldclock_locations",
			Help: "Number of locations held by the clock model",
		},
	)

	TimezoneFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldclock_timezone_fallbacks_total",
			Help: "Total number of timezone identifiers that fell back to local time",
		},
		[]string{"zone"},
	)

	Redraws = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldclock_redraws_total",
			Help: "Total number of snapshots handed to a presentation sink",
		},
		[]string{"sink"},
	)

	APIRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worldclock_api_requests_total",
			Help: "Total number of snapshot API requests by status code",
		},
		[]string{"code"},
	)

	APIRateLimited = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "worldclock_api_rate_limited_total",
			Help: "Total number of snapshot API requests rejected by the rate limiter",
		},
	)

	APILatency = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worldclock_api_request_duration_seconds",
			Help:    "Latency of snapshot API requests",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	MQTTConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "MQTT connection status (1=connected, 0=disconnected)",
		},
	)

	MQTTConnects = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_connects_total",
			Help: "Total number of successful MQTT connections",
		},
	)

	MQTTReconnects = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_reconnects_total",
			Help: "Total number of MQTT reconnections",
		},
	)

	MQTTDisconnects = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "mqtt_disconnects_total",
			Help: "Total number of MQTT disconnects",
		},
	)

	MQTTPublishes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_publishes_total",
			Help: "Total number of snapshot publishes by result (ok, error, timeout)",
		},
		[]string{"result"},
	)

	MQTTPublishDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mqtt_publish_duration_seconds",
			Help:    "Time taken for the broker to acknowledge a snapshot publish",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	HealthServing = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "grpc_health_serving",
			Help: "gRPC health status of the clock service (1=SERVING, 0=NOT_SERVING)",
		},
	)
}

func unregisterAll(registerer prometheus.Registerer) {
	// All collectors are created together; nil means nothing is registered yet.
	if Recomputes == nil {
		return
	}

	collectors := []prometheus.Collector{
		Recomputes,
		RecomputeDuration,
		SchedulerTicks,
		LastUpdate,
		Locations,
		TimezoneFallbacks,
		Redraws,
		APIRequests,
		APIRateLimited,
		APILatency,
		MQTTConnected,
		MQTTConnects,
		MQTTReconnects,
		MQTTDisconnects,
		MQTTPublishes,
		MQTTPublishDuration,
		HealthServing,
	}
	for _, c := range collectors {
		registerer.Unregister(c)
	}
}

// RecordRecompute records one recompute pass computed from the instant at.
func RecordRecompute(at time.Time, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	Recomputes.Inc()
	RecomputeDuration.Observe(duration.Seconds())
	LastUpdate.Set(float64(at.UnixNano()) / float64(time.Second))
}

// RecordTick records a scheduler tick and whether it asked for a redraw.
func RecordTick(redraw bool) {
	if redraw {
		SchedulerTicks.WithLabelValues("redraw").Inc()
		return
	}
	SchedulerTicks.WithLabelValues("skip").Inc()
}

// SetLocations records the size of the location collection.
func SetLocations(count int) {
	Locations.Set(float64(count))
}

// RecordTimezoneFallback records an identifier that could not be resolved.
func RecordTimezoneFallback(zone string) {
	if zone == "" {
		zone = "empty"
	}
	TimezoneFallbacks.WithLabelValues(zone).Inc()
}

// RecordRedraw records a snapshot handed to the named sink.
func RecordRedraw(sink string) {
	Redraws.WithLabelValues(sink).Inc()
}

// RecordAPIRequest tracks latency and status codes for the snapshot API.
func RecordAPIRequest(code int, duration time.Duration) {
	label := strconv.Itoa(code)
	if code <= 0 {
		label = "0"
	}
	if duration < 0 {
		duration = 0
	}
	APIRequests.WithLabelValues(label).Inc()
	APILatency.Observe(duration.Seconds())
}

// RecordAPIRateLimited tracks rate-limited responses for the snapshot API.
func RecordAPIRateLimited() {
	APIRateLimited.Inc()
}

// SetMQTTConnected updates MQTT connection status.
func SetMQTTConnected(connected bool) {
	if connected {
		MQTTConnected.Set(1)
	} else {
		MQTTConnected.Set(0)
	}
}

// RecordMQTTConnect records a successful MQTT connection.
func RecordMQTTConnect() {
	MQTTConnects.Inc()
}

// RecordMQTTReconnect records an MQTT reconnection.
func RecordMQTTReconnect() {
	MQTTReconnects.Inc()
}

// RecordMQTTDisconnect records an MQTT disconnect.
func RecordMQTTDisconnect() {
	MQTTDisconnects.Inc()
}

// RecordMQTTPublish records the outcome of a snapshot publish.
func RecordMQTTPublish(result string, duration time.Duration) {
	MQTTPublishes.WithLabelValues(result).Inc()
	if result == "ok" {
		MQTTPublishDuration.Observe(duration.Seconds())
	}
}

// SetHealthServing updates the gRPC health status gauge.
func SetHealthServing(serving bool) {
	if serving {
		HealthServing.Set(1)
	} else {
		HealthServing.Set(0)
	}
}
