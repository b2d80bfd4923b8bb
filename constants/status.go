package constants

// RunStatus is the canonical outcome for rows in run_history.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusRunning   RunStatus = "RUNNING"   // in progress
	RunStatusSucceeded RunStatus = "SUCCEEDED" // a provider satisfied the task
	RunStatusFailed    RunStatus = "FAILED"    // terminal failure, see failure class
	RunStatusCancelled RunStatus = "CANCELLED" // caller withdrew the run
)
