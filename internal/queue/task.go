package queue

type TaskType string

const (
	// TaskTypeIssueSync pulls the issues of one repository.
	TaskTypeIssueSync TaskType = "issue_sync"
)

// Trigger records what asked for a sync.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerCLI      Trigger = "cli"
	TriggerAPI      Trigger = "api"
)

type Task struct {
	TaskType     TaskType
	RepositoryID int64
	FullSync     bool
	Trigger      Trigger
	TraceID      *string
	Attempt      int
}
