package cli

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/hooks"
	"github.com/tus/doctree/pkg/prometheuscollector"
)

var MetricsOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "doctree_connections_open",
	Help: "Current number of open connections.",
})

// SetupMetrics registers all doctree metrics in a new registry and mounts the
// endpoint at -metrics-path.
func SetupMetrics(mux *http.ServeMux, b *bridge.FolderAccessBridge) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(MetricsOpenConnections)
	registry.MustRegister(hooks.MetricsHookErrorsTotal)
	registry.MustRegister(hooks.MetricsHookInvocationsTotal)
	registry.MustRegister(prometheuscollector.New(b.Metrics))

	if S3Provider != nil {
		S3Provider.RegisterMetrics(registry)
	}

	hooks.SetupHookMetrics()

	mux.Handle(Flags.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	printStartupLog("Using %s as the metrics path.\n", Flags.MetricsPath)

	return registry
}
