package types

// MemberStatus is the lifecycle status of a team member.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberIdle     MemberStatus = "idle"
	MemberShutdown MemberStatus = "shutdown"
)

// TaskStatus is the lifecycle status of a team task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TeamMember is one agent in a backend-managed team.
type TeamMember struct {
	Name   string       `json:"name"`
	Status MemberStatus `json:"status"`
}

// TeamTask is one unit of team work.
type TeamTask struct {
	ID     string     `json:"id"`
	Title  string     `json:"title,omitempty"`
	Status TaskStatus `json:"status"`
	Owner  string     `json:"owner,omitempty"`
}

// TeamState is a snapshot of a backend team. Snapshots are diffed on each
// update to produce typed team events.
type TeamState struct {
	Name    string       `json:"name"`
	Members []TeamMember `json:"members"`
	Tasks   []TeamTask   `json:"tasks"`
}
