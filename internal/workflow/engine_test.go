package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rahul/charforge/internal/agent"
	"github.com/rahul/charforge/internal/extract"
	"github.com/rahul/charforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script replays model replies in order.
type script struct {
	replies []string
	calls   []agent.Request
}

func (s *script) Call(_ context.Context, req agent.Request) (agent.Response, error) {
	s.calls = append(s.calls, req)
	if len(s.replies) == 0 {
		return agent.Response{}, fmt.Errorf("unexpected %s call", req.Agent)
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return agent.Response{Text: r}, nil
}

type fakeHistory struct {
	msgs    []store.Message
	loadErr error
	saveErr error
	saved   []store.RunRecord
}

func (h *fakeHistory) RecentMessages(limit int) ([]store.Message, error) {
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	if len(h.msgs) > limit {
		return h.msgs[len(h.msgs)-limit:], nil
	}
	return h.msgs, nil
}

func (h *fakeHistory) SaveRun(rec store.RunRecord) error {
	h.saved = append(h.saved, rec)
	return h.saveErr
}

func realEngine(caller agent.Caller, todo *store.TodoStore, history History) *Engine {
	prompts := agent.NewPromptManager("")
	return NewEngine(
		agent.NewPlanner(caller, prompts, nil),
		agent.NewSupervisor(caller, prompts, todo, nil),
		agent.NewRoleCreator(caller, prompts, nil, nil),
		history,
		nil,
	)
}

const fireWizardPlan = "```json\n" + `[
  {"phase_id":"PHASE_001","phase_name":"Concept","phase_description":"Concept art","phase_dependencies":[],"estimated_subtask_count":2},
  {"phase_id":"PHASE_002","phase_name":"Modelling","phase_description":"3D model","phase_dependencies":["PHASE_001"],"estimated_subtask_count":1},
  {"phase_id":"PHASE_003","phase_name":"Rigging","phase_description":"Rig and animate","phase_dependencies":["PHASE_002"],"estimated_subtask_count":1}
]` + "\n```"

func oneTask(id, name string) string {
	return fmt.Sprintf(`[{"task_id":%q,"task_name":%q}]`, id, name)
}

func assetJSON(file string) string {
	return fmt.Sprintf("```json\n{\"description\":\"%s for the fire wizard\",\"asset_uri\":\"s3://game-assets/characters/fire_wizard/%s\"}\n```", file, file)
}

func TestEngine_FireWizardScenario(t *testing.T) {
	todo := store.NewTodoStore(filepath.Join(t.TempDir(), "workspace", "todo.json"))
	caller := &script{replies: []string{
		fireWizardPlan,
		// PHASE_001
		`[{"task_id":"001","task_name":"Concept sketches"},{"task_id":"002","task_name":"Color palette","dependencies":["001"]}]`,
		assetJSON("sketches.png"),
		"Sketches are in, palette next.",
		"Here is the palette, sorry, no JSON this time.",
		"Concept phase wrapped up; palette needs a redo.",
		// PHASE_002
		oneTask("001", "Base mesh"),
		assetJSON("mesh.fbx"),
		"Modelling done.",
		// PHASE_003
		oneTask("001", "Skeleton rig"),
		assetJSON("rig.fbx"),
		"Rigging done.",
	}}
	history := &fakeHistory{}

	final, err := realEngine(caller, todo, history).Run(context.Background(), "create a fire wizard")
	require.NoError(t, err)

	assert.Equal(t, agent.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.CurrentPhase)
	assert.Empty(t, caller.replies, "every scripted reply should be consumed")
	assert.NotEmpty(t, final.RunID)

	p1 := final.Phases[0]
	assert.Equal(t, store.PhaseCompleted, p1.Status, "a phase with only terminal tasks completes")
	require.Len(t, p1.Tasks, 2)
	assert.Equal(t, store.TaskCompleted, p1.Tasks[0].Status)
	assert.Equal(t, store.TaskError, p1.Tasks[1].Status)
	assert.Equal(t, store.PhaseCompleted, final.Phases[1].Status, "run proceeds to the next phase")
	assert.Equal(t, store.PhaseCompleted, final.Phases[2].Status)

	// Only the planner's message and one summary per phase reach the outer log.
	require.Len(t, final.Messages, 5)
	assert.Equal(t, store.RoleUser, final.Messages[0].Role)
	assert.Equal(t, "Concept phase wrapped up; palette needs a redo.", final.Messages[2].Content)

	doc, err := todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 3)
	for i, p := range doc {
		assert.Equal(t, final.Phases[i].ID, p.ID)
		assert.Equal(t, store.PhaseCompleted, p.Status)
	}
	assert.Equal(t, store.TaskError, doc[0].Tasks[1].Status)
	assert.Contains(t, doc[0].Tasks[1].Error, "extraction failed")

	require.Len(t, history.saved, 1)
	assert.Equal(t, "completed", history.saved[0].Status)
	assert.Equal(t, final.RunID, history.saved[0].ID)

	// The role creator for task 002 saw task 001 as context.
	var rolePrompts []string
	for _, c := range caller.calls {
		if c.Agent == agent.NameRoleCreator {
			rolePrompts = append(rolePrompts, c.Prompt)
		}
	}
	require.Len(t, rolePrompts, 4)
	assert.Contains(t, rolePrompts[1], "s3://game-assets/characters/fire_wizard/sketches.png")
}

func TestEngine_PlannerExtractionErrorAbortsRun(t *testing.T) {
	todo := store.NewTodoStore(filepath.Join(t.TempDir(), "todo.json"))
	caller := &script{replies: []string{"I think we should begin with concept art."}}
	history := &fakeHistory{}

	final, err := realEngine(caller, todo, history).Run(context.Background(), "create a fire wizard")
	var xerr *extract.Error
	require.True(t, errors.As(err, &xerr), "got %v", err)
	assert.Equal(t, agent.StatusError, final.Status)
	assert.Empty(t, final.Phases)
	assert.Equal(t, 0, final.CurrentPhase)

	_, err = todo.Load()
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, history.saved, 1)
	assert.Equal(t, "error", history.saved[0].Status)
}

func TestEngine_BreakdownFailureStopsAtPhase(t *testing.T) {
	todo := store.NewTodoStore(filepath.Join(t.TempDir(), "todo.json"))
	caller := &script{replies: []string{
		fireWizardPlan,
		oneTask("001", "Sketch"),
		assetJSON("sketch.png"),
		"done",
		"no tasks for you",
	}}

	final, err := realEngine(caller, todo, nil).Run(context.Background(), "create a fire wizard")
	require.Error(t, err)
	assert.Equal(t, agent.StatusError, final.Status)
	assert.Equal(t, 1, final.CurrentPhase)
	assert.Equal(t, store.PhaseCompleted, final.Phases[0].Status)
	assert.Equal(t, store.PhasePending, final.Phases[1].Status)
	assert.Contains(t, err.Error(), "extraction failed")
}

func TestEngine_SequentialRunsResetDocument(t *testing.T) {
	todo := store.NewTodoStore(filepath.Join(t.TempDir(), "todo.json"))
	caller := &script{replies: []string{
		fireWizardPlan,
		oneTask("001", "Concept sketches"),
		assetJSON("sketches.png"),
		"Concept done.",
		oneTask("001", "Base mesh"),
		assetJSON("mesh.fbx"),
		"Modelling done.",
		oneTask("001", "Skeleton rig"),
		assetJSON("rig.fbx"),
		"Rigging done.",
	}}
	e := realEngine(caller, todo, nil)

	first, err := e.Run(context.Background(), "create a fire wizard")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, first.Status)
	doc, err := todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 3)

	caller.replies = []string{
		`[{"phase_id":"PHASE_001","phase_name":"Ice concept"}]`,
		"no tasks for you",
	}
	second, err := e.Run(context.Background(), "create an ice archer")
	require.Error(t, err)
	assert.Equal(t, agent.StatusError, second.Status)
	require.Len(t, second.Phases, 1)

	doc, err = todo.Load()
	require.NoError(t, err)
	require.Len(t, doc, 1, "phases of the earlier run must not survive")
	assert.Equal(t, "PHASE_001", doc[0].ID)
	assert.Equal(t, "Ice concept", doc[0].Name)
	assert.Equal(t, store.PhasePending, doc[0].Status)
	assert.Empty(t, doc[0].Tasks)
}

func TestEngine_PlanWriteFailureIsRunError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo.json")
	require.NoError(t, os.Mkdir(path, 0755))
	caller := &script{replies: []string{fireWizardPlan}}

	final, err := realEngine(caller, store.NewTodoStore(path), nil).Run(context.Background(), "create a fire wizard")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist plan")
	assert.Equal(t, agent.StatusError, final.Status)
	assert.Len(t, caller.calls, 1, "no phase runs after the plan fails to persist")
}

// Stub roles for exercising the engine's own bookkeeping.

type stubPlanner struct {
	phases  int
	err     error
	history string
	// causeless ends planning in error without an error value.
	causeless bool
}

func (p *stubPlanner) Execute(_ context.Context, s agent.WorkflowState) (agent.WorkflowState, error) {
	p.history = s.History
	if p.err != nil {
		return s.Fail(p.err), p.err
	}
	if p.causeless {
		return s.Fail(nil), nil
	}
	next, err := s.To(agent.StatusPlanningCompleted)
	if err != nil {
		return s.Fail(err), err
	}
	for i := 1; i <= p.phases; i++ {
		next.Phases = append(next.Phases, store.Phase{ID: fmt.Sprintf("P%d", i), Status: store.PhasePending})
	}
	return next, nil
}

type stubSupervisor struct {
	seen      []string
	failOn    string
	tasks     int
	noFinish  bool
	causeless bool
}

func (s *stubSupervisor) Execute(_ context.Context, st agent.SupervisorState) (agent.SupervisorState, error) {
	switch st.Status {
	case agent.SupervisorProcessing:
		s.seen = append(s.seen, st.Phase.ID)
		if st.Phase.ID == s.failOn {
			if s.causeless {
				return st.Fail(nil), nil
			}
			err := errors.New("breakdown failed")
			return st.Fail(err), err
		}
		next, _ := st.To(agent.SupervisorTaskProcessing)
		for i := 0; i < max(s.tasks, 1); i++ {
			next.Phase.Tasks = append(next.Phase.Tasks, store.Task{ID: fmt.Sprint(i), Status: store.TaskPending})
		}
		next.Current = 0
		return next, nil
	default:
		if !s.noFinish && st.Phase.AllTasksTerminal() {
			next, _ := st.To(agent.SupervisorCompleted)
			next.Phase.Status = store.PhaseCompleted
			next.Summary = st.Phase.ID + " done"
			return next, nil
		}
		next, _ := st.To(agent.SupervisorTaskProcessing)
		next.Current = max(next.Phase.NextPending(), 0)
		return next, nil
	}
}

type stubCreator struct {
	skipMark bool
	badJump  bool
}

func (c *stubCreator) Execute(_ context.Context, st agent.SupervisorState) (agent.SupervisorState, error) {
	if c.badJump {
		out := st.Clone()
		out.Status = agent.SupervisorCompleted
		return out, nil
	}
	next, _ := st.To(agent.SupervisorTaskCompleted)
	if !c.skipMark {
		next.Phase.Tasks[next.Current].Status = store.TaskCompleted
	}
	return next, nil
}

func TestEngine_PhaseIndexAdvancesOncePerPhase(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d phases", n), func(t *testing.T) {
			sup := &stubSupervisor{tasks: 2}
			e := NewEngine(&stubPlanner{phases: n}, sup, &stubCreator{}, nil, nil)

			final, err := e.Run(context.Background(), "r")
			require.NoError(t, err)
			assert.Equal(t, agent.StatusCompleted, final.Status)
			assert.Equal(t, n, final.CurrentPhase)
			require.Len(t, sup.seen, n)
			for i, id := range sup.seen {
				assert.Equal(t, fmt.Sprintf("P%d", i+1), id, "phases run once each, in order")
			}
			assert.Len(t, final.Messages, 1+n, "user request plus one summary per phase")
		})
	}
}

func TestEngine_FailureLeavesIndexAtFailedPhase(t *testing.T) {
	for fail := 1; fail <= 4; fail++ {
		t.Run(fmt.Sprintf("fail at P%d", fail), func(t *testing.T) {
			sup := &stubSupervisor{failOn: fmt.Sprintf("P%d", fail)}
			e := NewEngine(&stubPlanner{phases: 4}, sup, &stubCreator{}, nil, nil)

			final, err := e.Run(context.Background(), "r")
			require.Error(t, err)
			assert.Equal(t, agent.StatusError, final.Status)
			assert.Equal(t, fail-1, final.CurrentPhase)
			assert.NotEqual(t, len(final.Phases), final.CurrentPhase, "completed iff index reaches the phase count")
			for i := 0; i < fail-1; i++ {
				assert.Equal(t, store.PhaseCompleted, final.Phases[i].Status)
			}
		})
	}
}

func TestEngine_IllegalTransitionIsRunError(t *testing.T) {
	e := NewEngine(&stubPlanner{phases: 2}, &stubSupervisor{}, &stubCreator{badJump: true}, nil, nil)

	final, err := e.Run(context.Background(), "r")
	var terr *agent.TransitionError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, "task_processing", terr.From)
	assert.Equal(t, "completed", terr.To)
	assert.Equal(t, agent.StatusError, final.Status)
}

func TestEngine_StopsPhaseWithoutProgress(t *testing.T) {
	e := NewEngine(&stubPlanner{phases: 1}, &stubSupervisor{tasks: 2, noFinish: true}, &stubCreator{skipMark: true}, nil, nil)

	final, err := e.Run(context.Background(), "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no progress")
	assert.Equal(t, agent.StatusError, final.Status)
}

func TestEngine_History(t *testing.T) {
	history := &fakeHistory{msgs: []store.Message{
		{Role: store.RoleAssistant, Agent: agent.NamePlanner, Content: "Planned an ice mage"},
	}}
	planner := &stubPlanner{phases: 1}
	e := NewEngine(planner, &stubSupervisor{}, &stubCreator{}, history, nil)

	final, err := e.Run(context.Background(), "create a fire wizard")
	require.NoError(t, err)
	assert.Equal(t, "1. [planner] Planned an ice mage", planner.history)
	require.Len(t, history.saved, 1)
	rec := history.saved[0]
	assert.Equal(t, "create a fire wizard", rec.Request)
	assert.Len(t, rec.Messages, len(final.Messages))
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
}

func TestEngine_HistoryFailuresDoNotChangeOutcome(t *testing.T) {
	history := &fakeHistory{loadErr: errors.New("db locked"), saveErr: errors.New("disk full")}
	planner := &stubPlanner{phases: 2}
	e := NewEngine(planner, &stubSupervisor{}, &stubCreator{}, history, nil)

	final, err := e.Run(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, final.Status)
	assert.Empty(t, planner.history)
}

func TestEngine_PlannerError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine(&stubPlanner{err: boom}, &stubSupervisor{}, &stubCreator{}, nil, nil)

	final, err := e.Run(context.Background(), "r")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, agent.StatusError, final.Status)
}

func TestEngine_EmptyPlanIsError(t *testing.T) {
	e := NewEngine(&stubPlanner{phases: 0}, &stubSupervisor{}, &stubCreator{}, nil, nil)

	final, err := e.Run(context.Background(), "r")
	require.Error(t, err)
	assert.Equal(t, agent.StatusError, final.Status)
}

func TestEngine_ErrorWithoutCause(t *testing.T) {
	t.Run("planner", func(t *testing.T) {
		e := NewEngine(&stubPlanner{causeless: true}, &stubSupervisor{}, &stubCreator{}, nil, nil)

		final, err := e.Run(context.Background(), "r")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without a cause")
		assert.Equal(t, agent.StatusError, final.Status)
	})

	t.Run("supervisor", func(t *testing.T) {
		e := NewEngine(&stubPlanner{phases: 2}, &stubSupervisor{failOn: "P1", causeless: true}, &stubCreator{}, nil, nil)

		final, err := e.Run(context.Background(), "r")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "phase P1")
		assert.Equal(t, agent.StatusError, final.Status)
		assert.Equal(t, 0, final.CurrentPhase)
	})
}
