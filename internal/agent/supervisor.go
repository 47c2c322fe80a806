package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/charforge/internal/extract"
	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/store"
	"github.com/rahul/charforge/internal/tools"
)

// Supervisor breaks a phase into tasks, dispatches them in creation order and
// decides when the phase is done. It is the only writer of the todo document.
type Supervisor struct {
	Model   Caller
	Prompts *PromptManager
	Store   *store.TodoStore
	Logger  *observability.Logger
}

func NewSupervisor(model Caller, prompts *PromptManager, todo *store.TodoStore, logger *observability.Logger) *Supervisor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Supervisor{Model: model, Prompts: prompts, Store: todo, Logger: logger}
}

type taskOutput struct {
	ID              looseString   `json:"task_id"`
	Name            string        `json:"task_name"`
	Description     string        `json:"task_description"`
	DescAlias       string        `json:"description"`
	Dependencies    []looseString `json:"dependencies"`
	DependencyAlias []looseString `json:"task_dependencies"`
}

// Execute runs the breakdown in the processing status and the dispatch check
// in the task_completed status.
func (s *Supervisor) Execute(ctx context.Context, state SupervisorState) (SupervisorState, error) {
	switch state.Status {
	case SupervisorProcessing:
		return s.breakdown(ctx, state)
	case SupervisorTaskCompleted:
		return s.dispatch(ctx, state)
	default:
		err := &TransitionError{Graph: "supervisor", From: state.Status.String(), To: "supervisor step"}
		return state.Fail(err), err
	}
}

func (s *Supervisor) breakdown(ctx context.Context, state SupervisorState) (SupervisorState, error) {
	system, err := s.Prompts.System(NameSupervisor)
	if err != nil {
		return state.Fail(err), err
	}
	prompt, err := s.Prompts.Render(PromptSupervisorBreakdown, map[string]any{
		"Request": state.Request,
		"Phase":   state.Phase,
	})
	if err != nil {
		return state.Fail(err), err
	}

	tool := tools.SubmitTasks()
	resp, err := s.Model.Call(ctx, Request{Agent: NameSupervisor, System: system, Prompt: prompt, Tool: tool})
	if err != nil {
		err = asModelError(NameSupervisor, err)
		s.Logger.LogError(NameSupervisor, err)
		return state.Fail(err), err
	}

	tasks, err := parseTasks(structuredText(resp, tool))
	if err != nil {
		s.Logger.LogError(NameSupervisor, err)
		return state.Fail(err), err
	}

	next, err := state.To(SupervisorTaskProcessing)
	if err != nil {
		return state.Fail(err), err
	}
	next.Phase.Tasks = tasks
	next.Phase.Status = store.PhaseInProgress
	if err := s.savePhase(next.Phase); err != nil {
		return state.Fail(err), err
	}

	next.Current = 0
	next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NameSupervisor,
		replyContent(resp, fmt.Sprintf("Phase %s broken into %d tasks", next.Phase.ID, len(tasks)))))
	s.Logger.Log(observability.Event{
		Type:    observability.EventTypeTask,
		Agent:   NameSupervisor,
		PhaseID: next.Phase.ID,
		Message: fmt.Sprintf("phase %s broken into %d tasks (estimated %d)", next.Phase.ID, len(tasks), next.Phase.EstimatedSubtasks),
	})
	return next, nil
}

func (s *Supervisor) dispatch(ctx context.Context, state SupervisorState) (SupervisorState, error) {
	task, ok := state.CurrentTask()
	if !ok {
		err := fmt.Errorf("phase %s: no dispatched task at index %d", state.Phase.ID, state.Current)
		return state.Fail(err), err
	}

	if err := s.saveTask(state.Phase, task); err != nil {
		return state.Fail(err), err
	}

	system, err := s.Prompts.System(NameSupervisor)
	if err != nil {
		return state.Fail(err), err
	}
	completed, failed, pending := countTasks(state.Phase)
	prompt, err := s.Prompts.Render(PromptSupervisorProgress, map[string]any{
		"Phase":     state.Phase,
		"Task":      task,
		"Position":  state.Current + 1,
		"Completed": completed,
		"Failed":    failed,
		"Pending":   pending,
	})
	if err != nil {
		return state.Fail(err), err
	}

	resp, err := s.Model.Call(ctx, Request{Agent: NameSupervisor, System: system, Prompt: prompt})
	if err != nil {
		err = asModelError(NameSupervisor, err)
		s.Logger.LogError(NameSupervisor, err)
		return state.Fail(err), err
	}
	review := strings.TrimSpace(resp.Text)

	if state.Phase.AllTasksTerminal() {
		next, err := state.To(SupervisorCompleted)
		if err != nil {
			return state.Fail(err), err
		}
		next.Phase.Status = store.PhaseCompleted
		if err := s.savePhase(next.Phase); err != nil {
			return state.Fail(err), err
		}
		next.Summary = review
		if next.Summary == "" {
			next.Summary = fmt.Sprintf("Phase %s completed: %d tasks completed, %d failed", next.Phase.ID, completed, failed)
		}
		next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NameSupervisor, next.Summary))
		return next, nil
	}

	next, err := state.To(SupervisorTaskProcessing)
	if err != nil {
		return state.Fail(err), err
	}
	next.Current = next.Phase.NextPending()
	if next.Current < 0 {
		err := fmt.Errorf("phase %s has unfinished tasks but none pending", next.Phase.ID)
		return state.Fail(err), err
	}
	if review != "" {
		next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NameSupervisor, review))
	}
	return next, nil
}

func parseTasks(text string) ([]store.Task, error) {
	var out []taskOutput
	if err := extract.Decode(text, extract.Array, []string{"task_id", "task_name"}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, extract.Errorf(text, "phase breakdown contains no tasks")
	}

	seen := make(map[string]bool, len(out))
	tasks := make([]store.Task, 0, len(out))
	for i, o := range out {
		id := strings.TrimSpace(string(o.ID))
		if id == "" {
			return nil, extract.Errorf(text, "task at index %d has an empty task_id", i)
		}
		if seen[id] {
			return nil, extract.Errorf(text, "duplicate task_id %s at index %d", id, i)
		}
		seen[id] = true

		desc := o.Description
		if desc == "" {
			desc = o.DescAlias
		}
		deps := looseStrings(o.Dependencies)
		if deps == nil {
			deps = looseStrings(o.DependencyAlias)
		}
		tasks = append(tasks, store.Task{
			ID:           id,
			Name:         strings.TrimSpace(o.Name),
			Description:  strings.TrimSpace(desc),
			Dependencies: deps,
			Status:       store.TaskPending,
		})
	}
	return tasks, nil
}

// RecordPlan replaces the todo document with a freshly planned phase list so
// it never carries phases from an earlier run.
func (s *Supervisor) RecordPlan(phases []store.Phase) error {
	doc := make(store.Document, len(phases))
	for i, p := range phases {
		doc[i] = p.Clone()
	}
	if err := s.Store.Save(doc); err != nil {
		s.Logger.LogError(NameSupervisor, err)
		return fmt.Errorf("failed to persist plan: %w", err)
	}
	s.Logger.LogStore(s.Store.Path, fmt.Sprintf("saved plan with %d phases", len(doc)))
	return nil
}

// savePhase upserts the whole phase, recreating the document if needed.
func (s *Supervisor) savePhase(phase store.Phase) error {
	err := s.Store.Update(func(doc store.Document) (store.Document, error) {
		return doc.Upsert(phase), nil
	})
	if err != nil {
		s.Logger.LogError(NameSupervisor, err)
		return &StoreError{PhaseID: phase.ID, Err: err}
	}
	s.Logger.LogStore(s.Store.Path, fmt.Sprintf("saved phase %s (%s)", phase.ID, phase.Status))
	return nil
}

// saveTask records one task result. A document that is missing, corrupt or
// out of step with memory is rebuilt from the in-memory phase.
func (s *Supervisor) saveTask(phase store.Phase, task store.Task) error {
	err := s.Store.UpdateTask(phase.ID, task.ID, store.TaskResult{
		Status: task.Status,
		Asset:  task.Asset,
		Error:  task.Error,
	})
	if err == nil {
		s.Logger.LogTask(phase.ID, task.ID, string(task.Status), task.Error)
		return nil
	}

	var corrupt *store.CorruptError
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrPhaseNotFound) &&
		!errors.Is(err, store.ErrTaskNotFound) && !errors.As(err, &corrupt) {
		s.Logger.LogError(NameSupervisor, err)
		return &StoreError{PhaseID: phase.ID, Err: err}
	}
	s.Logger.LogStore(s.Store.Path, "rebuilding todo document: "+err.Error())
	if err := s.savePhase(phase); err != nil {
		return err
	}
	s.Logger.LogTask(phase.ID, task.ID, string(task.Status), task.Error)
	return nil
}

func countTasks(p store.Phase) (completed, failed, pending int) {
	for _, t := range p.Tasks {
		switch t.Status {
		case store.TaskCompleted:
			completed++
		case store.TaskError:
			failed++
		default:
			pending++
		}
	}
	return completed, failed, pending
}
