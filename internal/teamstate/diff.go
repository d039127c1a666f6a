// Package teamstate diffs successive backend team snapshots into typed
// change records.
package teamstate

import "github.com/teng-lin/beamcode/pkg/types"

// ChangeKind enumerates team change types.
type ChangeKind string

const (
	MemberJoined  ChangeKind = "member_joined"
	MemberLeft    ChangeKind = "member_left"
	MemberStatus  ChangeKind = "member_status"
	TaskCreated   ChangeKind = "task_created"
	TaskClaimed   ChangeKind = "task_claimed"
	TaskCompleted ChangeKind = "task_completed"
	TaskStatus    ChangeKind = "task_status"
)

// Change is one observed difference between two team snapshots.
type Change struct {
	Kind   ChangeKind
	Member *types.TeamMember
	Task   *types.TeamTask
}

// Diff compares two snapshots and returns the changes that turn old into
// new. A nil old snapshot reports everything in new as joined/created.
func Diff(old, new *types.TeamState) []Change {
	if new == nil {
		return nil
	}

	var changes []Change

	oldMembers := map[string]types.TeamMember{}
	if old != nil {
		for _, m := range old.Members {
			oldMembers[m.Name] = m
		}
	}
	for i := range new.Members {
		m := new.Members[i]
		prev, seen := oldMembers[m.Name]
		switch {
		case !seen:
			changes = append(changes, Change{Kind: MemberJoined, Member: &new.Members[i]})
		case prev.Status != m.Status:
			changes = append(changes, Change{Kind: MemberStatus, Member: &new.Members[i]})
		}
		delete(oldMembers, m.Name)
	}
	for name := range oldMembers {
		gone := oldMembers[name]
		changes = append(changes, Change{Kind: MemberLeft, Member: &gone})
	}

	oldTasks := map[string]types.TeamTask{}
	if old != nil {
		for _, task := range old.Tasks {
			oldTasks[task.ID] = task
		}
	}
	for i := range new.Tasks {
		task := new.Tasks[i]
		prev, seen := oldTasks[task.ID]
		switch {
		case !seen:
			changes = append(changes, Change{Kind: TaskCreated, Task: &new.Tasks[i]})
		case prev.Status != task.Status || prev.Owner != task.Owner:
			changes = append(changes, Change{Kind: taskTransition(prev, task), Task: &new.Tasks[i]})
		}
		delete(oldTasks, task.ID)
	}

	return changes
}

func taskTransition(prev, cur types.TeamTask) ChangeKind {
	switch {
	case cur.Status == types.TaskInProgress && prev.Status == types.TaskPending:
		return TaskClaimed
	case cur.Status == types.TaskCompleted && prev.Status != types.TaskCompleted:
		return TaskCompleted
	default:
		return TaskStatus
	}
}
