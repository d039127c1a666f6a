package teamstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/pkg/types"
)

func kinds(changes []Change) []ChangeKind {
	out := make([]ChangeKind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind
	}
	return out
}

func TestDiffFromNilReportsEverything(t *testing.T) {
	state := &types.TeamState{
		Name:    "builders",
		Members: []types.TeamMember{{Name: "lead", Status: types.MemberActive}},
		Tasks:   []types.TeamTask{{ID: "t1", Status: types.TaskPending}},
	}

	changes := Diff(nil, state)
	assert.ElementsMatch(t, []ChangeKind{MemberJoined, TaskCreated}, kinds(changes))
}

func TestDiffMemberTransitions(t *testing.T) {
	old := &types.TeamState{Members: []types.TeamMember{
		{Name: "a", Status: types.MemberActive},
		{Name: "b", Status: types.MemberActive},
	}}
	cur := &types.TeamState{Members: []types.TeamMember{
		{Name: "a", Status: types.MemberIdle},
		{Name: "c", Status: types.MemberActive},
	}}

	changes := Diff(old, cur)
	assert.ElementsMatch(t, []ChangeKind{MemberStatus, MemberJoined, MemberLeft}, kinds(changes))
}

func TestDiffTaskClaimAndComplete(t *testing.T) {
	old := &types.TeamState{Tasks: []types.TeamTask{
		{ID: "t1", Status: types.TaskPending},
		{ID: "t2", Status: types.TaskInProgress, Owner: "a"},
	}}
	cur := &types.TeamState{Tasks: []types.TeamTask{
		{ID: "t1", Status: types.TaskInProgress, Owner: "b"},
		{ID: "t2", Status: types.TaskCompleted, Owner: "a"},
	}}

	changes := Diff(old, cur)
	require.Len(t, changes, 2)
	assert.Equal(t, TaskClaimed, changes[0].Kind)
	assert.Equal(t, "b", changes[0].Task.Owner)
	assert.Equal(t, TaskCompleted, changes[1].Kind)
}

func TestDiffNoChanges(t *testing.T) {
	state := &types.TeamState{
		Members: []types.TeamMember{{Name: "a", Status: types.MemberActive}},
		Tasks:   []types.TeamTask{{ID: "t1", Status: types.TaskPending}},
	}
	assert.Empty(t, Diff(state, state))
}

func TestDiffNilNew(t *testing.T) {
	assert.Nil(t, Diff(&types.TeamState{}, nil))
}
