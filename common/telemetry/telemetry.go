package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records deployer activity
type Metrics struct {
	promotions  *prometheus.CounterVec
	flows       *prometheus.CounterVec
	rollbacks   *prometheus.CounterVec
	remoteCalls *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
}

// NewMetrics registers the deployer collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		promotions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowdeploy_promotions_total",
			Help: "Promotions by target environment and outcome",
		}, []string{"env", "outcome"}),
		flows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowdeploy_flows_promoted_total",
			Help: "Flows processed during promotion by result (created, updated, failed)",
		}, []string{"env", "result"}),
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowdeploy_rollbacks_total",
			Help: "Rollbacks by environment and outcome",
		}, []string{"env", "outcome"}),
		remoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowdeploy_remote_calls_total",
			Help: "Calls to the flow and prompt services by endpoint and status class",
		}, []string{"service", "endpoint", "status"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowdeploy_operation_duration_seconds",
			Help:    "Duration of deployer operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// IncPromotion counts a finished promotion
func (m *Metrics) IncPromotion(env, outcome string) {
	m.promotions.WithLabelValues(env, outcome).Inc()
}

// IncFlow counts one flow processed by a promotion
func (m *Metrics) IncFlow(env, result string) {
	m.flows.WithLabelValues(env, result).Inc()
}

// IncRollback counts a finished rollback
func (m *Metrics) IncRollback(env, outcome string) {
	m.rollbacks.WithLabelValues(env, outcome).Inc()
}

// IncRemoteCall counts one REST call
func (m *Metrics) IncRemoteCall(service, endpoint string, status int) {
	m.remoteCalls.WithLabelValues(service, endpoint, statusClass(status)).Inc()
}

// ObserveDuration records how long operation took since start
func (m *Metrics) ObserveDuration(operation string, start time.Time) {
	m.opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Telemetry holds observability components
type Telemetry struct {
	log         *logger.Logger
	pprofAddr   string
	metricsAddr string
	registry    *prometheus.Registry
	Metrics     *Metrics
	servers     []*http.Server
}

// New creates telemetry components; a zero port disables that endpoint
func New(pprofPort, metricsPort int, log *logger.Logger) *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &Telemetry{
		log:      log,
		registry: reg,
		Metrics:  NewMetrics(reg),
	}
	if pprofPort > 0 {
		t.pprofAddr = fmt.Sprintf("localhost:%d", pprofPort)
	}
	if metricsPort > 0 {
		t.metricsAddr = fmt.Sprintf(":%d", metricsPort)
	}
	return t
}

// Handler serves the metrics registry
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Start starts the pprof and metrics endpoints
func (t *Telemetry) Start(ctx context.Context) error {
	if t.pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		t.serve("pprof", t.pprofAddr, mux)
	}

	if t.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.serve("metrics", t.metricsAddr, mux)
	}

	return nil
}

func (t *Telemetry) serve(name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	t.servers = append(t.servers, srv)

	go func() {
		t.log.Info(name+" server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error(name+" server error", "error", err)
		}
	}()
}

// Shutdown stops the telemetry servers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
