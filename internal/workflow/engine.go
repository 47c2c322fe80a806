// Package workflow runs the two-level state machine: an outer graph that
// plans and walks phases, and an inner graph that the outer one runs once per
// phase to break it into tasks and execute them in order.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/charforge/internal/agent"
	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/store"
)

// PlanStep produces the phase list from the initial state.
type PlanStep interface {
	Execute(ctx context.Context, state agent.WorkflowState) (agent.WorkflowState, error)
}

// PhaseStep advances the inner graph by one step.
type PhaseStep interface {
	Execute(ctx context.Context, state agent.SupervisorState) (agent.SupervisorState, error)
}

// PlanRecorder is implemented by a supervisor that persists the phase list
// as soon as it is planned.
type PlanRecorder interface {
	RecordPlan(phases []store.Phase) error
}

// History keeps earlier runs. Failures never change a run's outcome.
type History interface {
	RecentMessages(limit int) ([]store.Message, error)
	SaveRun(rec store.RunRecord) error
}

// Engine owns the WorkflowState of one request at a time. Runs are
// sequential; an Engine must not be shared between concurrent callers.
type Engine struct {
	Planner    PlanStep
	Supervisor PhaseStep
	Creator    PhaseStep
	History    History
	Logger     *observability.Logger

	newID func() string
	now   func() time.Time
}

func NewEngine(planner PlanStep, supervisor PhaseStep, creator PhaseStep, history History, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Engine{
		Planner:    planner,
		Supervisor: supervisor,
		Creator:    creator,
		History:    history,
		Logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Run drives one request to completed or error. The returned error is the
// terminal error of a run that ended in error.
func (e *Engine) Run(ctx context.Context, request string) (agent.WorkflowState, error) {
	started := e.now()
	state := agent.WorkflowState{
		RunID:    e.newID(),
		Request:  request,
		Status:   agent.StatusInitial,
		Messages: []store.Message{agent.NewMessage(store.RoleUser, agent.NameUser, request)},
	}
	state.History = e.priorContext()

	defer observability.SetStatus(observability.RoleIdle, "")

	observability.SetStatus(observability.RolePlanner, "planning")
	state = e.step(state, func(s agent.WorkflowState) (agent.WorkflowState, error) {
		return e.Planner.Execute(ctx, s)
	})
	if state.Status == agent.StatusPlanningCompleted {
		ids := make([]string, len(state.Phases))
		for i, p := range state.Phases {
			ids[i] = p.ID
		}
		e.Logger.LogPlan(state.RunID, ids)

		if rec, ok := e.Supervisor.(PlanRecorder); ok {
			if err := rec.RecordPlan(state.Phases); err != nil {
				state = e.step(state, func(s agent.WorkflowState) (agent.WorkflowState, error) {
					return s.Fail(err), err
				})
			}
		}
	}

	for state.Status == agent.StatusPlanningCompleted {
		state = e.step(state, func(s agent.WorkflowState) (agent.WorkflowState, error) {
			return e.runPhase(ctx, s)
		})
		if state.Status != agent.StatusPhaseCompleted {
			break
		}

		state.CurrentPhase++
		next := agent.StatusPlanningCompleted
		if state.CurrentPhase >= len(state.Phases) {
			next = agent.StatusCompleted
		}
		state = e.step(state, func(s agent.WorkflowState) (agent.WorkflowState, error) {
			return s.To(next)
		})
	}

	e.record(state, started)
	return state, state.Err
}

// step applies fn and enforces the outer transition table.
func (e *Engine) step(state agent.WorkflowState, fn func(agent.WorkflowState) (agent.WorkflowState, error)) agent.WorkflowState {
	next, err := fn(state)
	if err != nil {
		if next.Status != agent.StatusError {
			next = next.Fail(err)
		}
		if next.Err == nil {
			next.Err = err
		}
	} else if !state.Status.CanTransition(next.Status) {
		terr := &agent.TransitionError{Graph: "workflow", From: state.Status.String(), To: next.Status.String()}
		next = state.Fail(terr)
	}
	if next.Status == agent.StatusError && next.Err == nil {
		next.Err = fmt.Errorf("workflow ended in error from %s without a cause", state.Status)
	}
	e.Logger.LogTransition(state.RunID, "workflow", state.Status.String(), next.Status.String())
	if next.Status == agent.StatusError {
		e.Logger.LogError(agent.NameWorkflow, next.Err)
	}
	return next
}

// runPhase runs the inner graph for the current phase. Only the phase value
// and the supervisor's summary come back out.
func (e *Engine) runPhase(ctx context.Context, state agent.WorkflowState) (agent.WorkflowState, error) {
	phase, ok := state.CurrentPhaseValue()
	if !ok {
		err := fmt.Errorf("phase index %d out of range (%d phases)", state.CurrentPhase, len(state.Phases))
		return state.Fail(err), err
	}

	sup, err := e.runSubgraph(ctx, state.RunID, agent.NewSupervisorState(state.Request, phase))

	out := state.Clone()
	out.Phases[state.CurrentPhase] = sup.Phase.Clone()
	if sup.Summary != "" {
		out.Messages = append(out.Messages, agent.NewMessage(store.RoleAssistant, agent.NameSupervisor, sup.Summary))
	}
	if err != nil {
		return out.Fail(fmt.Errorf("phase %s: %w", phase.ID, err)), err
	}
	return out.To(agent.StatusPhaseCompleted)
}

func (e *Engine) runSubgraph(ctx context.Context, runID string, st agent.SupervisorState) (agent.SupervisorState, error) {
	scope := "supervisor " + st.Phase.ID
	steps := 0
	for !st.Status.Terminal() {
		// One breakdown, then one execution and one check per task.
		if steps > 1+2*len(st.Phase.Tasks) {
			st = st.Fail(fmt.Errorf("phase %s made no progress after %d steps", st.Phase.ID, steps))
			break
		}
		steps++

		var runner PhaseStep
		switch st.Status {
		case agent.SupervisorProcessing, agent.SupervisorTaskCompleted:
			observability.SetStatus(observability.RoleSupervisor, st.Phase.ID)
			runner = e.Supervisor
		case agent.SupervisorTaskProcessing:
			task, _ := st.CurrentTask()
			observability.SetStatus(observability.RoleRoleCreator, st.Phase.ID+"/"+task.ID)
			runner = e.Creator
		default:
			st = st.Fail(fmt.Errorf("phase %s: no role handles status %s", st.Phase.ID, st.Status))
			continue
		}

		next, err := runner.Execute(ctx, st)
		switch {
		case err != nil:
			if next.Status != agent.SupervisorError {
				next = next.Fail(err)
			}
			if next.Err == nil {
				next.Err = err
			}
		case !st.Status.CanTransition(next.Status):
			next = st.Fail(&agent.TransitionError{Graph: "supervisor", From: st.Status.String(), To: next.Status.String()})
		}
		if next.Status == agent.SupervisorError && next.Err == nil {
			next.Err = fmt.Errorf("phase %s ended in error from %s without a cause", st.Phase.ID, st.Status)
		}
		e.Logger.LogTransition(runID, scope, st.Status.String(), next.Status.String())
		st = next
	}

	if st.Status == agent.SupervisorError {
		return st, st.Err
	}
	return st, nil
}

func (e *Engine) priorContext() string {
	if e.History == nil {
		return ""
	}
	msgs, err := e.History.RecentMessages(agent.HistoryLimit)
	if err != nil {
		e.Logger.LogError(agent.NameWorkflow, fmt.Errorf("failed to load history: %w", err))
		return ""
	}
	return agent.FormatHistory(msgs)
}

func (e *Engine) record(state agent.WorkflowState, started time.Time) {
	if e.History == nil {
		return
	}
	err := e.History.SaveRun(store.RunRecord{
		ID:         state.RunID,
		Request:    state.Request,
		Status:     state.Status.String(),
		StartedAt:  started,
		FinishedAt: e.now(),
		Messages:   state.Messages,
	})
	if err != nil {
		e.Logger.LogError(agent.NameWorkflow, fmt.Errorf("failed to record run: %w", err))
	}
}
