package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rahul/charforge/internal/store"
)

// scriptedCaller replays canned replies in order and records every request.
type scriptedCaller struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   []Request
}

type scriptedReply struct {
	resp Response
	err  error
}

func text(s string) scriptedReply { return scriptedReply{resp: Response{Text: s}} }

func fails(err error) scriptedReply { return scriptedReply{err: err} }

func toolCall(name, args string) scriptedReply {
	return scriptedReply{resp: Response{Call: &ToolCall{Name: name, Arguments: args}}}
}

func (c *scriptedCaller) Call(_ context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if len(c.replies) == 0 {
		return Response{}, fmt.Errorf("unexpected %s call", req.Agent)
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.resp, r.err
}

func fenced(body string) string { return "```json\n" + body + "\n```" }

const threePhases = `[
  {"phase_id":"PHASE_001","phase_name":"Concept","phase_description":"Concept art","phase_dependencies":[],"estimated_subtask_count":2},
  {"phase_id":"PHASE_002","phase_name":"Modelling","phase_description":"Model","phase_dependencies":["PHASE_001"],"estimated_subtask_count":3},
  {"phase_id":"PHASE_003","phase_name":"Rigging","phase_description":"Rig","phase_dependencies":["PHASE_002"],"estimated_subtask_count":1}
]`

const twoTasks = `[
  {"task_id":"001","task_name":"Sketch","task_description":"Silhouettes","dependencies":[]},
  {"task_id":"002","task_name":"Palette","task_dependencies":["001"]}
]`

func assetReply(uri string) string {
	return fenced(fmt.Sprintf(`{"description":"made it","asset_uri":%q}`, uri))
}

func testPhase() store.Phase {
	return store.Phase{
		ID:                "PHASE_001",
		Name:              "Concept",
		Description:       "Concept art",
		EstimatedSubtasks: 2,
		Status:            store.PhasePending,
	}
}

func newTestStore(t *testing.T) *store.TodoStore {
	t.Helper()
	return store.NewTodoStore(filepath.Join(t.TempDir(), "todo.json"))
}

var errBoom = errors.New("boom")
