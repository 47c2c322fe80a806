package store

import "time"

// PhaseStatus is the lifecycle state of a Phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Terminal reports whether no further work will happen on a task in this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// AssetRef points at a (simulated) generated asset.
type AssetRef struct {
	URI         string `json:"uri"`
	Description string `json:"description"`
}

// Task is a single unit of simulated asset creation work within a Phase.
type Task struct {
	ID           string     `json:"task_id"`
	Name         string     `json:"task_name"`
	Description  string     `json:"task_description"`
	Dependencies []string   `json:"dependencies"`
	Asset        *AssetRef  `json:"generated_asset_ref"`
	Status       TaskStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
}

// Phase is a milestone-level unit of work containing an ordered list of Tasks.
type Phase struct {
	ID                string      `json:"phase_id"`
	Name              string      `json:"phase_name"`
	Description       string      `json:"phase_description"`
	Dependencies      []string    `json:"phase_dependencies"`
	EstimatedSubtasks int         `json:"estimated_subtask_count"`
	Status            PhaseStatus `json:"status"`
	Tasks             []Task      `json:"tasks"`
}

// Clone returns a deep copy of the phase.
func (p Phase) Clone() Phase {
	out := p
	out.Dependencies = cloneStrings(p.Dependencies)
	if p.Tasks != nil {
		out.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.Dependencies = cloneStrings(t.Dependencies)
	if t.Asset != nil {
		a := *t.Asset
		out.Asset = &a
	}
	return out
}

// TaskIndex returns the position of the task with the given id, or -1.
func (p Phase) TaskIndex(id string) int {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// AllTasksTerminal reports whether every task has finished, successfully or not.
// A phase without tasks is never terminal.
func (p Phase) AllTasksTerminal() bool {
	if len(p.Tasks) == 0 {
		return false
	}
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// NextPending returns the index of the first pending task in creation order, or -1.
func (p Phase) NextPending() int {
	for i, t := range p.Tasks {
		if t.Status == TaskPending {
			return i
		}
	}
	return -1
}

// Document is the persisted mirror of Phase/Task state.
type Document []Phase

// PhaseIndex returns the position of the phase with the given id, or -1.
func (d Document) PhaseIndex(id string) int {
	for i := range d {
		if d[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert replaces the phase with the same id or appends it.
func (d Document) Upsert(p Phase) Document {
	if i := d.PhaseIndex(p.ID); i >= 0 {
		d[i] = p.Clone()
		return d
	}
	return append(d, p.Clone())
}

// Role is the author kind of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the append-only conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent_name"`
	Timestamp time.Time `json:"timestamp"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
