package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Presence metrics
	HubsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotepulse_hubs_active",
			Help: "Number of document hubs currently resident in memory",
		},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotepulse_connections_active",
			Help: "Open hub connections by user type",
		},
		[]string{"user_type"},
	)

	EventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotepulse_events_routed_total",
			Help: "Events emitted by hubs by event type and addressing scope",
		},
		[]string{"type", "scope"},
	)

	MalformedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_malformed_messages_total",
			Help: "Inbound hub messages dropped because they could not be parsed",
		},
	)

	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_send_failures_total",
			Help: "Broadcast sends that failed and evicted the target socket",
		},
	)

	Hibernations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_hub_hibernations_total",
			Help: "Hubs dropped from memory after going idle",
		},
	)

	Restores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_hub_restores_total",
			Help: "Hubs rebuilt from socket attachments",
		},
	)

	// Ingest metrics
	ActivitiesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotepulse_activities_ingested_total",
			Help: "Activity records written by event type",
		},
		[]string{"event_type"},
	)

	ActivitiesDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_activities_deduplicated_total",
			Help: "Activity writes skipped because the client sequence was already stored",
		},
	)

	IngestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotepulse_ingest_failures_total",
			Help: "Activity ingest requests rejected by reason",
		},
		[]string{"reason"},
	)

	ActivitiesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotepulse_activities_purged_total",
			Help: "Activity records deleted by the retention sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(HubsActive)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(EventsRouted)
	prometheus.MustRegister(MalformedMessages)
	prometheus.MustRegister(SendFailures)
	prometheus.MustRegister(Hibernations)
	prometheus.MustRegister(Restores)
	prometheus.MustRegister(ActivitiesIngested)
	prometheus.MustRegister(ActivitiesDeduplicated)
	prometheus.MustRegister(IngestFailures)
	prometheus.MustRegister(ActivitiesPurged)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
