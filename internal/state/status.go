package state

// TaskStatus is the lifecycle status of a whole task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status never transitions again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// StepStatus is the substatus of a single pipeline step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
	StepSkipped    StepStatus = "skipped"
)

// Done reports whether the step counts as finished for progress purposes.
func (s StepStatus) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// NormalizeStepStatus maps historical aliases onto the canonical status set.
// It is idempotent: canonical values map to themselves, unknown values map
// to pending.
func NormalizeStepStatus(raw string) StepStatus {
	switch StepStatus(raw) {
	case StepPending, StepProcessing, StepCompleted, StepFailed, StepCancelled, StepSkipped:
		return StepStatus(raw)
	}
	switch raw {
	case "complete":
		return StepCompleted
	case "in_progress":
		return StepProcessing
	case "canceled":
		return StepCancelled
	case "error":
		return StepFailed
	case "queued", "waiting":
		return StepPending
	default:
		return StepPending
	}
}
