package agent

import (
	"fmt"
	"time"

	"github.com/rahul/charforge/internal/store"
)

// Agent names as they appear in the message log.
const (
	NamePlanner     = "planner"
	NameSupervisor  = "supervisor"
	NameRoleCreator = "role_creator"
	NameUser        = "user"
	NameWorkflow    = "workflow"
)

// WorkflowStatus is the state of the outer graph.
type WorkflowStatus int

const (
	StatusInitial WorkflowStatus = iota
	StatusPlanningCompleted
	StatusPhaseCompleted
	StatusCompleted
	StatusError
)

var workflowNames = [...]string{"initial", "planning_completed", "phase_completed", "completed", "error"}

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusInitial:           {StatusPlanningCompleted, StatusError},
	StatusPlanningCompleted: {StatusPhaseCompleted, StatusError},
	StatusPhaseCompleted:    {StatusPlanningCompleted, StatusCompleted, StatusError},
}

func (s WorkflowStatus) String() string {
	if s < 0 || int(s) >= len(workflowNames) {
		return fmt.Sprintf("WorkflowStatus(%d)", int(s))
	}
	return workflowNames[s]
}

func (s WorkflowStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the outer graph stops in this status.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether the outer graph allows s -> to.
func (s WorkflowStatus) CanTransition(to WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SupervisorStatus is the state of the inner graph.
type SupervisorStatus int

const (
	SupervisorProcessing SupervisorStatus = iota
	SupervisorTaskProcessing
	SupervisorTaskCompleted
	SupervisorCompleted
	SupervisorError
)

var supervisorNames = [...]string{"processing", "task_processing", "task_completed", "completed", "error"}

var supervisorTransitions = map[SupervisorStatus][]SupervisorStatus{
	SupervisorProcessing:     {SupervisorTaskProcessing, SupervisorError},
	SupervisorTaskProcessing: {SupervisorTaskCompleted, SupervisorError},
	SupervisorTaskCompleted:  {SupervisorTaskProcessing, SupervisorCompleted, SupervisorError},
}

func (s SupervisorStatus) String() string {
	if s < 0 || int(s) >= len(supervisorNames) {
		return fmt.Sprintf("SupervisorStatus(%d)", int(s))
	}
	return supervisorNames[s]
}

func (s SupervisorStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the inner graph stops in this status.
func (s SupervisorStatus) Terminal() bool {
	return s == SupervisorCompleted || s == SupervisorError
}

// CanTransition reports whether the inner graph allows s -> to.
func (s SupervisorStatus) CanTransition(to SupervisorStatus) bool {
	for _, allowed := range supervisorTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError reports a move the transition table does not allow.
type TransitionError struct {
	Graph    string
	From, To string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Graph, e.From, e.To)
}

// WorkflowState is owned by the engine for the lifetime of one request.
type WorkflowState struct {
	RunID   string
	Request string
	// History summarises earlier runs for the planner. May be empty.
	History      string
	Phases       []store.Phase
	CurrentPhase int
	Status       WorkflowStatus
	Messages     []store.Message
	Err          error
}

// Clone returns a deep copy of the state.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.Phases = clonePhases(s.Phases)
	out.Messages = cloneMessages(s.Messages)
	return out
}

// To returns a copy of s moved to next, or a TransitionError.
func (s WorkflowState) To(next WorkflowStatus) (WorkflowState, error) {
	if !s.Status.CanTransition(next) {
		return s, &TransitionError{Graph: "workflow", From: s.Status.String(), To: next.String()}
	}
	out := s.Clone()
	out.Status = next
	return out, nil
}

// Fail returns a copy of s in the error status carrying err.
func (s WorkflowState) Fail(err error) WorkflowState {
	out := s.Clone()
	out.Status = StatusError
	out.Err = err
	return out
}

// CurrentPhaseValue returns the phase being worked on.
func (s WorkflowState) CurrentPhaseValue() (store.Phase, bool) {
	if s.CurrentPhase < 0 || s.CurrentPhase >= len(s.Phases) {
		return store.Phase{}, false
	}
	return s.Phases[s.CurrentPhase], true
}

// SupervisorState lives for one phase only. Only Phase and Summary survive
// the phase boundary.
type SupervisorState struct {
	Request string
	Phase   store.Phase
	// Current is the index of the dispatched task, -1 when none.
	Current  int
	Status   SupervisorStatus
	Messages []store.Message
	Summary  string
	Err      error
}

// NewSupervisorState starts the inner graph for one phase.
func NewSupervisorState(request string, phase store.Phase) SupervisorState {
	return SupervisorState{
		Request: request,
		Phase:   phase.Clone(),
		Current: -1,
		Status:  SupervisorProcessing,
	}
}

// Clone returns a deep copy of the state.
func (s SupervisorState) Clone() SupervisorState {
	out := s
	out.Phase = s.Phase.Clone()
	out.Messages = cloneMessages(s.Messages)
	return out
}

// To returns a copy of s moved to next, or a TransitionError.
func (s SupervisorState) To(next SupervisorStatus) (SupervisorState, error) {
	if !s.Status.CanTransition(next) {
		return s, &TransitionError{Graph: "supervisor", From: s.Status.String(), To: next.String()}
	}
	out := s.Clone()
	out.Status = next
	return out, nil
}

// Fail returns a copy of s in the error status carrying err.
func (s SupervisorState) Fail(err error) SupervisorState {
	out := s.Clone()
	out.Status = SupervisorError
	out.Err = err
	return out
}

// CurrentTask returns the dispatched task.
func (s SupervisorState) CurrentTask() (store.Task, bool) {
	if s.Current < 0 || s.Current >= len(s.Phase.Tasks) {
		return store.Task{}, false
	}
	return s.Phase.Tasks[s.Current], true
}

var now = time.Now

// NewMessage stamps a log entry with the current time.
func NewMessage(role store.Role, agent, content string) store.Message {
	return store.Message{Role: role, Content: content, Agent: agent, Timestamp: now()}
}

func clonePhases(in []store.Phase) []store.Phase {
	if in == nil {
		return nil
	}
	out := make([]store.Phase, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

func cloneMessages(in []store.Message) []store.Message {
	if in == nil {
		return nil
	}
	out := make([]store.Message, len(in))
	copy(out, in)
	return out
}
