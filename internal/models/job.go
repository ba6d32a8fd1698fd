package models

// JobStatus is an automation job state as reported by the platform.
type JobStatus string

// Job states the orchestrator distinguishes.
const (
	JobNew       JobStatus = "New"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobSuspended JobStatus = "Suspended"
	JobStopped   JobStatus = "Stopped"

	// JobTimedOut is never reported by the platform. It marks a poll that gave up.
	JobTimedOut JobStatus = "TimedOut"
)

// Terminal reports whether polling should stop at this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobSuspended, JobStopped:
		return true
	default:
		return false
	}
}

// HasOutput reports whether the job stream is worth fetching for this status.
func (s JobStatus) HasOutput() bool {
	return s == JobCompleted || s == JobFailed
}

// ScheduleSpec describes a recurring automation schedule.
type ScheduleSpec struct {
	Name        string
	Description string
	StartTime   string
	ExpiryTime  string
	Interval    int
	Frequency   string
	TimeZone    string
}
