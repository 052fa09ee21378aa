package messaging

// Subject names follow {domain}.{resource}.{action}.
const (
	// Routing work requested by the queued dispatcher.
	SubjectLeadsRouteRequested = "leads.route.requested"

	// Domain events emitted by the ingestion core.
	SubjectLeadCreated = "leads.events.created"
	SubjectLeadRouted  = "leads.events.routed"

	// Dead-letter prefix; the failure reason is appended.
	SubjectDLQPrefix = "leads.dlq"
)

// Queue group and durable consumer names.
const (
	QueueRoutingWorkers = "routing-workers"
	QueueLeadIndexers   = "lead-indexers"
)

// DLQSubject returns the dead-letter subject for reason,
// e.g. leads.dlq.normalize.
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + reason
}
