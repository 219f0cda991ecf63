package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobCancelled = "job.cancelled"
)

// CategoryJob groups all job actions.
const CategoryJob = "genqueue.job"

// ResourceJob is the Resource field of every event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
	}
}
