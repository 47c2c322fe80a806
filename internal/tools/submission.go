package tools

const (
	SubmitPhasesName = "submit_phases"
	SubmitTasksName  = "submit_tasks"
	SubmitAssetName  = "submit_asset"
)

type submission struct {
	name        string
	description string
	payload     string
	params      map[string]any
}

func (s *submission) Name() string               { return s.name }
func (s *submission) Description() string        { return s.description }
func (s *submission) Parameters() map[string]any { return s.params }
func (s *submission) Payload() string            { return s.payload }

func str() map[string]any { return map[string]any{"type": "string"} }

func strList() map[string]any {
	return map[string]any{"type": "array", "items": str()}
}

// SubmitPhases lets the planner hand back its ordered phase list.
func SubmitPhases() Tool {
	return &submission{
		name:        SubmitPhasesName,
		description: "Submit the ordered list of production phases for the character.",
		payload:     "phases",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phases": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"phase_id":                str(),
							"phase_name":              str(),
							"phase_description":       str(),
							"phase_dependencies":      strList(),
							"estimated_subtask_count": map[string]any{"type": "integer", "minimum": 0},
						},
						"required": []string{"phase_id", "phase_name", "phase_description"},
					},
				},
			},
			"required": []string{"phases"},
		},
	}
}

// SubmitTasks lets the supervisor hand back the task breakdown of a phase.
func SubmitTasks() Tool {
	return &submission{
		name:        SubmitTasksName,
		description: "Submit the ordered list of tasks that complete the current phase.",
		payload:     "tasks",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"task_id":          str(),
							"task_name":        str(),
							"task_description": str(),
							"dependencies":     strList(),
						},
						"required": []string{"task_id", "task_name"},
					},
				},
			},
			"required": []string{"tasks"},
		},
	}
}

// SubmitAsset lets the role creator report the asset produced for a task.
func SubmitAsset() Tool {
	return &submission{
		name:        SubmitAssetName,
		description: "Report the asset produced for the current task.",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": str(),
				"asset_uri":   str(),
			},
			"required": []string{"description", "asset_uri"},
		},
	}
}
