package agent

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/charforge/internal/extract"
	"github.com/rahul/charforge/internal/governance"
	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/store"
	"github.com/rahul/charforge/internal/tools"
)

// RecentContextSize is how many completed tasks of the phase are shown to the
// role creator.
const RecentContextSize = 3

// RoleCreator executes one task and returns a simulated asset reference.
type RoleCreator struct {
	Model     Caller
	Prompts   *PromptManager
	Policy    governance.PolicyEngine
	Sanitizer *bluemonday.Policy
	Logger    *observability.Logger
}

func NewRoleCreator(model Caller, prompts *PromptManager, policy governance.PolicyEngine, logger *observability.Logger) *RoleCreator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if policy == nil {
		policy = governance.NewDefaultPolicyEngine()
	}
	return &RoleCreator{
		Model:     model,
		Prompts:   prompts,
		Policy:    policy,
		Sanitizer: bluemonday.StrictPolicy(),
		Logger:    logger,
	}
}

type assetOutput struct {
	Description string `json:"description"`
	AssetURI    string `json:"asset_uri"`
	AssetsURL   string `json:"assets_url"`
	S3URL       string `json:"s3_url"`
}

func (o assetOutput) uri() string {
	for _, u := range []string{o.AssetURI, o.AssetsURL, o.S3URL} {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}

// Execute runs the dispatched task. A reply without a usable result marks the
// task as error and still moves on to task_completed; only model and prompt
// failures end the phase.
func (r *RoleCreator) Execute(ctx context.Context, state SupervisorState) (SupervisorState, error) {
	if state.Status != SupervisorTaskProcessing {
		err := &TransitionError{Graph: "supervisor", From: state.Status.String(), To: SupervisorTaskCompleted.String()}
		return state.Fail(err), err
	}
	task, ok := state.CurrentTask()
	if !ok {
		err := fmt.Errorf("phase %s: no dispatched task at index %d", state.Phase.ID, state.Current)
		return state.Fail(err), err
	}

	system, err := r.Prompts.System(NameRoleCreator)
	if err != nil {
		return state.Fail(err), err
	}
	prompt, err := r.Prompts.Render(PromptRoleCreator, map[string]any{
		"Request": state.Request,
		"Phase":   state.Phase,
		"Task":    task,
		"Recent":  recentCompleted(state.Phase, RecentContextSize),
	})
	if err != nil {
		return state.Fail(err), err
	}

	tool := tools.SubmitAsset()
	resp, err := r.Model.Call(ctx, Request{Agent: NameRoleCreator, System: system, Prompt: prompt, Tool: tool})
	if err != nil {
		err = asModelError(NameRoleCreator, err)
		r.Logger.LogError(NameRoleCreator, err)
		return state.Fail(err), err
	}

	asset, diag, err := r.result(ctx, task, structuredText(resp, tool))
	if err != nil {
		return state.Fail(err), err
	}

	next, err := state.To(SupervisorTaskCompleted)
	if err != nil {
		return state.Fail(err), err
	}
	done := &next.Phase.Tasks[next.Current]
	if asset != nil {
		done.Status = store.TaskCompleted
		done.Asset = asset
		done.Error = ""
		next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NameRoleCreator,
			fmt.Sprintf("Task %s %s completed: %s\n%s", task.ID, task.Name, asset.URI, asset.Description)))
	} else {
		done.Status = store.TaskError
		done.Asset = nil
		done.Error = diag
		next.Messages = append(next.Messages, NewMessage(store.RoleAssistant, NameRoleCreator,
			fmt.Sprintf("Task %s %s failed: %s", task.ID, task.Name, diag)))
	}
	r.Logger.LogTask(next.Phase.ID, task.ID, string(done.Status), diag)
	return next, nil
}

// result turns the reply into an asset. A nil asset with a diagnostic means
// the task failed; an error means the run cannot go on.
func (r *RoleCreator) result(ctx context.Context, task store.Task, text string) (*store.AssetRef, string, error) {
	var out assetOutput
	if err := extract.Decode(text, extract.Object, []string{"description"}, &out); err != nil {
		r.Logger.LogError(NameRoleCreator, err)
		return nil, err.Error(), nil
	}

	uri := out.uri()
	if uri == "" {
		err := extract.Errorf(text, "result has no asset uri")
		r.Logger.LogError(NameRoleCreator, err)
		return nil, err.Error(), nil
	}
	desc := strings.TrimSpace(html.UnescapeString(r.Sanitizer.Sanitize(out.Description)))
	if desc == "" {
		err := extract.Errorf(text, "result has an empty description")
		r.Logger.LogError(NameRoleCreator, err)
		return nil, err.Error(), nil
	}

	verdict, err := r.Policy.Evaluate(ctx, governance.Request{TaskID: task.ID, URI: uri, Description: desc})
	if err != nil {
		return nil, "", fmt.Errorf("asset policy: %w", err)
	}
	r.Logger.LogPolicy(task.ID, string(verdict.Effect), verdict.Reason)
	if verdict.Effect != governance.EffectAllow {
		return nil, "asset rejected: " + verdict.Reason, nil
	}
	return &store.AssetRef{URI: uri, Description: desc}, "", nil
}

// recentCompleted returns up to n of the latest completed tasks in creation order.
func recentCompleted(p store.Phase, n int) []store.Task {
	var done []store.Task
	for _, t := range p.Tasks {
		if t.Status == store.TaskCompleted {
			done = append(done, t.Clone())
		}
	}
	if len(done) > n {
		done = done[len(done)-n:]
	}
	return done
}
