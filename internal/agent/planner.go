package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/charforge/internal/extract"
	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/store"
	"github.com/rahul/charforge/internal/tools"
)

// Planner turns the user request into an ordered list of phases.
type Planner struct {
	Model   Caller
	Prompts *PromptManager
	Logger  *observability.Logger
}

func NewPlanner(model Caller, prompts *PromptManager, logger *observability.Logger) *Planner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Planner{Model: model, Prompts: prompts, Logger: logger}
}

type phaseOutput struct {
	ID                looseString   `json:"phase_id"`
	Name              string        `json:"phase_name"`
	Description       string        `json:"phase_description"`
	Dependencies      []looseString `json:"phase_dependencies"`
	EstimatedSubtasks *looseInt     `json:"estimated_subtask_count"`
	EstimatedAlias    *looseInt     `json:"estimated_subtasks"`
}

// Execute makes one model call. On failure the returned state is in the error
// status with its phase list untouched.
func (p *Planner) Execute(ctx context.Context, state WorkflowState) (WorkflowState, error) {
	if state.Status != StatusInitial {
		err := &TransitionError{Graph: "workflow", From: state.Status.String(), To: StatusPlanningCompleted.String()}
		return state.Fail(err), err
	}

	system, err := p.Prompts.System(NamePlanner)
	if err != nil {
		return state.Fail(err), err
	}
	prompt, err := p.Prompts.Render(PromptPlanner, map[string]any{
		"Request": state.Request,
		"History": state.History,
	})
	if err != nil {
		return state.Fail(err), err
	}

	tool := tools.SubmitPhases()
	resp, err := p.Model.Call(ctx, Request{Agent: NamePlanner, System: system, Prompt: prompt, Tool: tool})
	if err != nil {
		err = asModelError(NamePlanner, err)
		p.Logger.LogError(NamePlanner, err)
		return state.Fail(err), err
	}

	phases, err := parsePhases(structuredText(resp, tool))
	if err != nil {
		p.Logger.LogError(NamePlanner, err)
		return state.Fail(err), err
	}

	next, err := state.To(StatusPlanningCompleted)
	if err != nil {
		return state.Fail(err), err
	}
	next.Phases = phases
	next.CurrentPhase = 0
	next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NamePlanner, replyContent(resp, planSummary(phases))))
	return next, nil
}

func parsePhases(text string) ([]store.Phase, error) {
	var out []phaseOutput
	if err := extract.Decode(text, extract.Array, []string{"phase_id", "phase_name"}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, extract.Errorf(text, "plan contains no phases")
	}

	seen := make(map[string]bool, len(out))
	phases := make([]store.Phase, 0, len(out))
	for i, o := range out {
		id := strings.TrimSpace(string(o.ID))
		if id == "" {
			return nil, extract.Errorf(text, "phase at index %d has an empty phase_id", i)
		}
		if seen[id] {
			return nil, extract.Errorf(text, "duplicate phase_id %s at index %d", id, i)
		}
		deps := looseStrings(o.Dependencies)
		for _, dep := range deps {
			if !seen[dep] {
				return nil, extract.Errorf(text, "phase %s depends on %q which is not an earlier phase", id, dep)
			}
		}
		seen[id] = true

		estimate := 0
		switch {
		case o.EstimatedSubtasks != nil:
			estimate = int(*o.EstimatedSubtasks)
		case o.EstimatedAlias != nil:
			estimate = int(*o.EstimatedAlias)
		}
		phases = append(phases, store.Phase{
			ID:                id,
			Name:              strings.TrimSpace(o.Name),
			Description:       strings.TrimSpace(o.Description),
			Dependencies:      deps,
			EstimatedSubtasks: max(estimate, 0),
			Status:            store.PhasePending,
		})
	}
	return phases, nil
}

func planSummary(phases []store.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Planned %d phases:", len(phases))
	for _, p := range phases {
		fmt.Fprintf(&b, "\n- %s %s", p.ID, p.Name)
	}
	return b.String()
}

// replyContent is what goes into the message log for a structured reply.
func replyContent(resp Response, fallback string) string {
	if s := strings.TrimSpace(resp.Text); s != "" {
		return s
	}
	return fallback
}
