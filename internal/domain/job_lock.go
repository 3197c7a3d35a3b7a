package domain

import "time"

// JobLock claims exclusive execution of a named job.
// Corresponds to job_locks table in PostgreSQL.
type JobLock struct {
	Name       string
	AcquiredAt time.Time
	Holder     string // run id, diagnostics only
}
