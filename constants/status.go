package constants

// JobStatus is the canonical status for rows in analysis_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusAnalyzed   JobStatus = "analyzed"   // analysis done, waiting for a process call
	JobStatusProcessing JobStatus = "processing" // extraction in progress
	JobStatusCompleted  JobStatus = "completed"  // terminal: result persisted
	JobStatusFailed     JobStatus = "failed"     // terminal: extraction failed
	JobStatusExpired    JobStatus = "expired"    // terminal: TTL elapsed before processing
)

// Terminal reports whether a job in this status can never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusExpired:
		return true
	}
	return false
}
