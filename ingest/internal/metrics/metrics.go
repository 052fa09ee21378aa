package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingress
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_webhook_requests_total",
			Help: "Webhook deliveries by source and response status",
		},
		[]string{"source", "status"},
	)

	WebhookBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_webhook_bytes_total",
			Help: "Accepted webhook body bytes",
		},
		[]string{"source"},
	)

	DuplicateDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_duplicate_deliveries_total",
			Help: "Deliveries answered from the idempotency ledger",
		},
		[]string{"source"},
	)

	OrphanedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_orphaned_events_total",
			Help: "Events stored without a workspace",
		},
		[]string{"source", "reason"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"source"},
	)

	// Normalization
	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_records_normalized_total",
			Help: "Records normalized by payload shape",
		},
		[]string{"shape"},
	)

	NormalizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadme_ingest_normalization_duration_seconds",
			Help:    "Time spent mapping one record",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		},
		[]string{"shape"},
	)

	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_normalization_errors_total",
			Help: "Records that failed normalization",
		},
		[]string{"reason"},
	)

	LeadsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_leads_stored_total",
			Help: "Leads written, split into created and merged",
		},
		[]string{"source", "result"},
	)

	// Routing
	RoutingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_routing_outcomes_total",
			Help: "Per-recipient routing outcomes",
		},
		[]string{"recipient_kind", "outcome"},
	)

	RoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadme_ingest_routing_duration_seconds",
			Help:    "Time to route one lead",
			Buckets: prometheus.DefBuckets,
		},
	)

	RoutingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_routing_failures_total",
			Help: "Routing sub-systems that errored or panicked",
		},
		[]string{"recipient_kind"},
	)

	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_dispatch_errors_total",
			Help: "Routing dispatches that could not be handed off",
		},
		[]string{"mode"},
	)

	// Imports
	ImportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_import_jobs_total",
			Help: "Import jobs by terminal status",
		},
		[]string{"status"},
	)

	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_import_rows_total",
			Help: "Import rows by result",
		},
		[]string{"result"},
	)

	// Partners
	PartnerRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_partner_rows_total",
			Help: "Partner upload rows by result",
		},
		[]string{"result"},
	)

	Commissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_commissions_total",
			Help: "Commission ledger records written",
		},
		[]string{"kind"},
	)

	// Plumbing
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_dlq_writes_total",
			Help: "Records written to the dead-letter queue",
		},
		[]string{"reason"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_events_published_total",
			Help: "Domain events emitted",
		},
		[]string{"type", "status"},
	)

	LeadIndexOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadme_ingest_lead_index_operations_total",
			Help: "Search index bulk operations by result",
		},
		[]string{"result"},
	)
)
