package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	registry prometheus.Gatherer

	// device calls
	deviceCalls        *prometheus.CounterVec
	deviceCallDuration *prometheus.HistogramVec

	// liveness
	routerUp       *prometheus.GaugeVec
	probesTotal    *prometheus.CounterVec
	lastProbeEpoch *prometheus.GaugeVec

	// config sync
	configSyncs *prometheus.CounterVec

	// batches
	batchDuration *prometheus.HistogramVec
	batchOutcomes *prometheus.CounterVec
	batchInFlight prometheus.Gauge

	// vouchers
	vouchersIssued   *prometheus.CounterVec
	voucherCollision prometheus.Counter
}

// NewCollector registers the service metrics on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		deviceCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routerfleet_device_calls_total",
				Help: "Device REST calls by facet and outcome",
			},
			[]string{"facet", "outcome"},
		),

		deviceCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routerfleet_device_call_duration_seconds",
				Help:    "Duration of device REST calls in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"facet"},
		),

		routerUp: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routerfleet_router_up",
				Help: "Whether the router answered its last contact (1) or not (0)",
			},
			[]string{"tenant_id", "router_id"},
		),

		probesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routerfleet_probes_total",
				Help: "Liveness probes by resulting status",
			},
			[]string{"tenant_id", "status"},
		),

		lastProbeEpoch: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "routerfleet_router_last_seen_timestamp_seconds",
				Help: "Unix time of the last completed contact attempt",
			},
			[]string{"tenant_id", "router_id"},
		),

		configSyncs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routerfleet_config_syncs_total",
				Help: "Configuration syncs by result (complete, degraded, failed)",
			},
			[]string{"tenant_id", "result"},
		),

		batchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routerfleet_batch_duration_seconds",
				Help:    "Duration of fleet batch runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"operation"},
		),

		batchOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routerfleet_batch_outcomes_total",
				Help: "Per-router outcomes produced by batch runs",
			},
			[]string{"operation", "result"},
		),

		batchInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "routerfleet_batch_jobs_in_flight",
				Help: "Router jobs currently executing in batch workers",
			},
		),

		vouchersIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routerfleet_vouchers_issued_total",
				Help: "Vouchers persisted by the issuer",
			},
			[]string{"tenant_id", "profile"},
		),

		voucherCollision: f.NewCounter(
			prometheus.CounterOpts{
				Name: "routerfleet_voucher_username_collisions_total",
				Help: "Generated voucher usernames rejected as duplicates",
			},
		),
	}
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collector) RecordDeviceCall(facet, outcome string, d time.Duration) {
	c.deviceCalls.WithLabelValues(facet, outcome).Inc()
	c.deviceCallDuration.WithLabelValues(facet).Observe(d.Seconds())
}

func (c *Collector) RecordLiveness(tenantID, routerID string, online bool, at time.Time) {
	up := 0.0
	status := "offline"
	if online {
		up = 1
		status = "online"
	}
	c.routerUp.WithLabelValues(tenantID, routerID).Set(up)
	c.lastProbeEpoch.WithLabelValues(tenantID, routerID).Set(float64(at.Unix()))
	c.probesTotal.WithLabelValues(tenantID, status).Inc()
}

func (c *Collector) ForgetRouter(tenantID, routerID string) {
	c.routerUp.DeleteLabelValues(tenantID, routerID)
	c.lastProbeEpoch.DeleteLabelValues(tenantID, routerID)
}

func (c *Collector) RecordConfigSync(tenantID, result string) {
	c.configSyncs.WithLabelValues(tenantID, result).Inc()
}

func (c *Collector) RecordBatch(operation string, d time.Duration, succeeded, failed int) {
	c.batchDuration.WithLabelValues(operation).Observe(d.Seconds())
	c.batchOutcomes.WithLabelValues(operation, "success").Add(float64(succeeded))
	c.batchOutcomes.WithLabelValues(operation, "failure").Add(float64(failed))
}

func (c *Collector) JobStarted()  { c.batchInFlight.Inc() }
func (c *Collector) JobFinished() { c.batchInFlight.Dec() }

func (c *Collector) RecordVouchersIssued(tenantID, profile string, n int) {
	c.vouchersIssued.WithLabelValues(tenantID, profile).Add(float64(n))
}

func (c *Collector) RecordVoucherCollision() {
	c.voucherCollision.Inc()
}
