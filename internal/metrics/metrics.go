// Package metrics provides Prometheus instrumentation for the moderation
// assistant: counters over the report lifecycle and gauges for the
// conversation machinery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsCreated counts reports by origin: "automated" or "user".
	ReportsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modflow_reports_created_total",
		Help: "Total number of reports created",
	}, []string{"kind"})

	// ReportsClaimed counts successful report claims.
	ReportsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modflow_reports_claimed_total",
		Help: "Total number of reports claimed by moderators",
	})

	// ReportsResolved counts reports reaching their terminal status.
	ReportsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modflow_reports_resolved_total",
		Help: "Total number of reports resolved",
	})

	// ClaimRejections counts claim attempts refused, labeled by cause:
	// "taken" (report already claimed) or "busy" (moderator already
	// reviewing another report).
	ClaimRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modflow_claim_rejections_total",
		Help: "Total number of rejected claim attempts",
	}, []string{"cause"})

	// ActiveFlows tracks currently open conversation flows, labeled by
	// flow type.
	ActiveFlows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modflow_active_flows",
		Help: "Current number of open conversation flows",
	}, []string{"flow"})

	// ContentFlagged counts channel content routed into a flow by the
	// classifier, labeled by category.
	ContentFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modflow_content_flagged_total",
		Help: "Total number of messages flagged by the classifier",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(
		ReportsCreated,
		ReportsClaimed,
		ReportsResolved,
		ClaimRejections,
		ActiveFlows,
		ContentFlagged,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
