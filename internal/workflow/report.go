package workflow

import (
	"fmt"
	"strings"

	"github.com/rahul/charforge/internal/agent"
	"github.com/rahul/charforge/internal/store"
)

// PhaseReport is the outcome of one phase.
type PhaseReport struct {
	ID        string
	Name      string
	Status    store.PhaseStatus
	Completed int
	Failed    int
	Pending   int
	Assets    []store.AssetRef
	Errors    []string
}

// Report is what a user sees at the end of a run.
type Report struct {
	RunID        string
	Request      string
	Status       string
	Error        string
	Messages     int
	CurrentPhase int
	Phases       []PhaseReport
}

// Summarize reduces a final state to its report.
func Summarize(state agent.WorkflowState) Report {
	r := Report{
		RunID:        state.RunID,
		Request:      state.Request,
		Status:       state.Status.String(),
		Messages:     len(state.Messages),
		CurrentPhase: state.CurrentPhase,
	}
	if state.Err != nil {
		r.Error = state.Err.Error()
	}
	for _, p := range state.Phases {
		pr := PhaseReport{ID: p.ID, Name: p.Name, Status: p.Status}
		for _, t := range p.Tasks {
			switch t.Status {
			case store.TaskCompleted:
				pr.Completed++
				if t.Asset != nil {
					pr.Assets = append(pr.Assets, *t.Asset)
				}
			case store.TaskError:
				pr.Failed++
				pr.Errors = append(pr.Errors, fmt.Sprintf("%s %s: %s", t.ID, t.Name, t.Error))
			default:
				pr.Pending++
			}
		}
		r.Phases = append(r.Phases, pr)
	}
	return r
}

// Totals returns the task outcome counts over all phases.
func (r Report) Totals() (completed, failed, pending int) {
	for _, p := range r.Phases {
		completed += p.Completed
		failed += p.Failed
		pending += p.Pending
	}
	return completed, failed, pending
}

// String renders the report as plain text for terminals and chat messages.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", r.RunID, r.Status)
	fmt.Fprintf(&b, "Request: %s\n", r.Request)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	completed, failed, pending := r.Totals()
	fmt.Fprintf(&b, "Phases: %d/%d, tasks: %d completed, %d failed, %d pending, messages: %d\n",
		min(r.CurrentPhase, len(r.Phases)), len(r.Phases), completed, failed, pending, r.Messages)

	for _, p := range r.Phases {
		fmt.Fprintf(&b, "\n[%s] %s (%s): %d completed, %d failed\n", p.ID, p.Name, p.Status, p.Completed, p.Failed)
		for _, a := range p.Assets {
			fmt.Fprintf(&b, "  + %s\n", a.URI)
		}
		for _, msg := range p.Errors {
			fmt.Fprintf(&b, "  ! %s\n", msg)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
