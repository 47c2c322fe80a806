package agent

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rahul/charforge/internal/extract"
	"github.com/rahul/charforge/internal/store"
	"github.com/rahul/charforge/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSupervisor(c Caller, s *store.TodoStore) *Supervisor {
	return NewSupervisor(c, NewPromptManager(""), s, nil)
}

func TestSupervisor_BreakdownPersistsPhase(t *testing.T) {
	todo := newTestStore(t)
	caller := &scriptedCaller{replies: []scriptedReply{text(fenced(twoTasks))}}
	in := NewSupervisorState("create a fire wizard", testPhase())

	out, err := newSupervisor(caller, todo).Execute(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, SupervisorTaskProcessing, out.Status)
	assert.Equal(t, 0, out.Current)
	assert.Equal(t, store.PhaseInProgress, out.Phase.Status)
	require.Len(t, out.Phase.Tasks, 2)
	assert.Equal(t, []string{"001"}, out.Phase.Tasks[1].Dependencies, "task_dependencies alias")
	assert.Equal(t, store.TaskPending, out.Phase.Tasks[0].Status)

	// Absent document is created with the current phase and its tasks.
	doc, err := todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "PHASE_001", doc[0].ID)
	assert.Equal(t, store.PhaseInProgress, doc[0].Status)
	assert.Len(t, doc[0].Tasks, 2)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, tools.SubmitTasksName, caller.calls[0].Tool.Name())
	assert.Contains(t, caller.calls[0].Prompt, "about 2 tasks")

	assert.Empty(t, in.Phase.Tasks, "input state must not change")
	assert.Equal(t, SupervisorProcessing, in.Status)
}

func TestSupervisor_BreakdownFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply scriptedReply
		check func(t *testing.T, err error)
	}{
		{"zero tasks", text("[]"), func(t *testing.T, err error) {
			var xerr *extract.Error
			assert.True(t, errors.As(err, &xerr))
		}},
		{"duplicate ids", text(`[{"task_id":"1","task_name":"a"},{"task_id":"1","task_name":"b"}]`), func(t *testing.T, err error) {
			var xerr *extract.Error
			assert.True(t, errors.As(err, &xerr))
		}},
		{"prose", text("Let's sketch first."), func(t *testing.T, err error) {
			var xerr *extract.Error
			assert.True(t, errors.As(err, &xerr))
		}},
		{"model error", fails(errBoom), func(t *testing.T, err error) {
			var merr *ModelError
			assert.True(t, errors.As(err, &merr))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			todo := newTestStore(t)
			caller := &scriptedCaller{replies: []scriptedReply{tt.reply}}

			out, err := newSupervisor(caller, todo).Execute(context.Background(), NewSupervisorState("r", testPhase()))
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, SupervisorError, out.Status)

			_, err = todo.Load()
			assert.ErrorIs(t, err, store.ErrNotFound, "nothing is persisted on failure")
		})
	}
}

func TestSupervisor_BreakdownNumericTaskIDs(t *testing.T) {
	todo := newTestStore(t)
	caller := &scriptedCaller{replies: []scriptedReply{
		text(`[{"task_id":7,"task_name":"Sketch"},{"task_id":"8","task_name":"Color","dependencies":[7]}]`),
	}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), NewSupervisorState("r", testPhase()))
	require.NoError(t, err)
	require.Len(t, out.Phase.Tasks, 2)
	assert.Equal(t, "7", out.Phase.Tasks[0].ID)
	assert.Equal(t, "8", out.Phase.Tasks[1].ID)
	assert.Equal(t, []string{"7"}, out.Phase.Tasks[1].Dependencies)
}

func TestSupervisor_RecordPlanReplacesDocument(t *testing.T) {
	todo := newTestStore(t)
	stale := store.Document{
		{ID: "PHASE_001", Name: "Old concept", Status: store.PhaseCompleted, Tasks: []store.Task{{ID: "001", Name: "x", Status: store.TaskCompleted}}},
		{ID: "PHASE_002", Name: "Old model", Status: store.PhaseCompleted},
	}
	require.NoError(t, todo.Save(stale))

	plan := []store.Phase{{ID: "PHASE_001", Name: "Concept", Status: store.PhasePending}}
	require.NoError(t, newSupervisor(&scriptedCaller{}, todo).RecordPlan(plan))

	doc, err := todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "Concept", doc[0].Name)
	assert.Equal(t, store.PhasePending, doc[0].Status)
	assert.Empty(t, doc[0].Tasks)
}

func TestSupervisor_RecordPlanWriteFailure(t *testing.T) {
	path := t.TempDir() + "/todo.json"
	require.NoError(t, os.Mkdir(path, 0755))

	err := newSupervisor(&scriptedCaller{}, store.NewTodoStore(path)).RecordPlan([]store.Phase{{ID: "P1"}})
	assert.ErrorContains(t, err, "failed to persist plan")
}

func TestSupervisor_BreakdownWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	// A directory where the document should be makes every write fail.
	path := dir + "/todo.json"
	require.NoError(t, os.Mkdir(path, 0755))
	caller := &scriptedCaller{replies: []scriptedReply{text(twoTasks)}}

	out, err := newSupervisor(caller, store.NewTodoStore(path)).Execute(context.Background(), NewSupervisorState("r", testPhase()))
	var serr *StoreError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, "PHASE_001", serr.PhaseID)
	assert.Equal(t, SupervisorError, out.Status)
}

// brokenDown returns the state right after a successful breakdown.
func brokenDown(t *testing.T, todo *store.TodoStore) SupervisorState {
	t.Helper()
	caller := &scriptedCaller{replies: []scriptedReply{text(twoTasks)}}
	st, err := newSupervisor(caller, todo).Execute(context.Background(), NewSupervisorState("r", testPhase()))
	require.NoError(t, err)
	return st
}

func finish(st SupervisorState, status store.TaskStatus) SupervisorState {
	st = st.Clone()
	st.Status = SupervisorTaskCompleted
	st.Phase.Tasks[st.Current].Status = status
	if status == store.TaskCompleted {
		st.Phase.Tasks[st.Current].Asset = &store.AssetRef{URI: "s3://game-assets/characters/x.png", Description: "x"}
	} else {
		st.Phase.Tasks[st.Current].Error = "malformed"
	}
	return st
}

func TestSupervisor_DispatchNextTask(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskCompleted)
	caller := &scriptedCaller{replies: []scriptedReply{text("Sketches look good, moving on.")}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, SupervisorTaskProcessing, out.Status)
	assert.Equal(t, 1, out.Current)
	assert.Equal(t, "Sketches look good, moving on.", out.Messages[len(out.Messages)-1].Content)
	require.Len(t, caller.calls, 1)
	assert.Nil(t, caller.calls[0].Tool)
	assert.Contains(t, caller.calls[0].Prompt, "Task 1 of 2")

	doc, err := todo.Load()
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, doc[0].Tasks[0].Status)
	require.NotNil(t, doc[0].Tasks[0].Asset)
	assert.Equal(t, store.TaskPending, doc[0].Tasks[1].Status)
}

func TestSupervisor_PhaseCompletesWhenAllTasksTerminal(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskCompleted)
	st.Phase.Tasks[1].Status = store.TaskError
	st.Phase.Tasks[1].Error = "malformed output"
	st.Current = 1
	caller := &scriptedCaller{replies: []scriptedReply{text("Concept phase done with one failure.")}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, SupervisorCompleted, out.Status)
	assert.Equal(t, store.PhaseCompleted, out.Phase.Status)
	assert.Equal(t, "Concept phase done with one failure.", out.Summary)

	doc, err := todo.Load()
	require.NoError(t, err)
	assert.Equal(t, store.PhaseCompleted, doc[0].Status)
	assert.Equal(t, store.TaskError, doc[0].Tasks[1].Status)
	assert.Equal(t, "malformed output", doc[0].Tasks[1].Error)
}

func TestSupervisor_EmptyReviewGetsDefaultSummary(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskCompleted)
	st.Phase.Tasks[1].Status = store.TaskCompleted
	caller := &scriptedCaller{replies: []scriptedReply{text("  ")}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "Phase PHASE_001 completed: 2 tasks completed, 0 failed", out.Summary)
}

func TestSupervisor_DispatchRebuildsMissingDocument(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskCompleted)
	require.NoError(t, os.Remove(todo.Path))
	caller := &scriptedCaller{replies: []scriptedReply{text("ok")}}

	_, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	require.NoError(t, err)

	doc, err := todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, store.TaskCompleted, doc[0].Tasks[0].Status)
}

func TestSupervisor_DispatchRebuildsCorruptDocument(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskError)
	require.NoError(t, os.WriteFile(todo.Path, []byte("{oops"), 0644))
	caller := &scriptedCaller{replies: []scriptedReply{text("ok")}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SupervisorTaskProcessing, out.Status)

	doc, err := todo.Load()
	require.NoError(t, err)
	assert.Equal(t, store.TaskError, doc[0].Tasks[0].Status)
}

func TestSupervisor_ReviewModelErrorIsFatal(t *testing.T) {
	todo := newTestStore(t)
	st := finish(brokenDown(t, todo), store.TaskCompleted)
	caller := &scriptedCaller{replies: []scriptedReply{fails(errBoom)}}

	out, err := newSupervisor(caller, todo).Execute(context.Background(), st)
	var merr *ModelError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, SupervisorError, out.Status)
}

func TestSupervisor_RejectsTaskProcessingStatus(t *testing.T) {
	st := NewSupervisorState("r", testPhase())
	st.Status = SupervisorTaskProcessing

	out, err := newSupervisor(&scriptedCaller{}, newTestStore(t)).Execute(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, SupervisorError, out.Status)
}
