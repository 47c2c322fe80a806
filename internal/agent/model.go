package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/tools"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
)

// Request is one model call.
type Request struct {
	Agent  string
	System string
	Prompt string
	// Tool, if set, is offered to the model as the way to submit its answer.
	Tool tools.Tool
}

// ToolCall is a function call the model made instead of (or besides) replying in text.
type ToolCall struct {
	Name      string
	Arguments string
}

// Response is what the model returned, independent of the provider.
type Response struct {
	Text      string
	Call      *ToolCall
	Reasoning string
}

// Caller is the model boundary used by every role.
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// ModelError wraps transport, auth and rate-limit failures from the model.
// The workflow never retries them.
type ModelError struct {
	Agent string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model call failed: %v", e.Agent, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Sampling holds per-role generation parameters.
type Sampling struct {
	Temperature float64
	MaxTokens   int
	UseTools    bool
}

// LLMCaller adapts a langchaingo model to Caller.
type LLMCaller struct {
	Model    llms.Model
	Sampling map[string]Sampling
	// Tools lists the tools a request may offer.
	Tools  *tools.Registry
	Logger *observability.Logger
}

func NewLLMCaller(model llms.Model, sampling map[string]Sampling, logger *observability.Logger) *LLMCaller {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LLMCaller{Model: model, Sampling: sampling, Tools: tools.DefaultRegistry(), Logger: logger}
}

func (c *LLMCaller) Call(ctx context.Context, req Request) (Response, error) {
	if req.Tool != nil && c.Tools != nil && c.Tools.Get(req.Tool.Name()) == nil {
		return Response{}, fmt.Errorf("%s offered unregistered tool %q", req.Agent, req.Tool.Name())
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var opts []llms.CallOption
	sampling, ok := c.Sampling[req.Agent]
	if ok {
		opts = append(opts, llms.WithTemperature(sampling.Temperature))
		if sampling.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(sampling.MaxTokens))
		}
	}
	offerTool := req.Tool != nil && sampling.UseTools
	if offerTool {
		opts = append(opts, llms.WithTools([]llms.Tool{tools.Definition(req.Tool)}))
	}

	resp, err := c.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		c.Logger.LogError(req.Agent, err)
		return Response{}, &ModelError{Agent: req.Agent, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		err := errors.New("empty response from model")
		c.Logger.LogError(req.Agent, err)
		return Response{}, &ModelError{Agent: req.Agent, Err: err}
	}

	out := fromChoice(resp.Choices[0], req.Tool)
	c.Logger.LogLLM(req.Agent, req.System, req.Prompt, out.Text, out.Call)
	if out.Call != nil {
		c.Logger.LogToolCall(req.Agent, out.Call.Name, out.Call.Arguments)
	}
	return out, nil
}

// fromChoice hides the provider's response shape. Only a call to the offered
// tool is kept.
func fromChoice(choice *llms.ContentChoice, tool tools.Tool) Response {
	out := Response{
		Text:      choice.Content,
		Reasoning: choice.ReasoningContent,
	}
	if tool == nil {
		return out
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == tool.Name() {
			out.Call = &ToolCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
			return out
		}
	}
	if fc := choice.FuncCall; fc != nil && fc.Name == tool.Name() {
		out.Call = &ToolCall{Name: fc.Name, Arguments: fc.Arguments}
	}
	return out
}

// structuredText returns the text the extractor should see: the submitted
// payload when the model called the tool, the reply text otherwise.
func structuredText(resp Response, tool tools.Tool) string {
	if resp.Call == nil || tool == nil || resp.Call.Name != tool.Name() {
		return resp.Text
	}
	args := strings.TrimSpace(resp.Call.Arguments)
	if path := tool.Payload(); path != "" {
		if r := gjson.Get(args, path); r.Exists() {
			return r.Raw
		}
		return resp.Text
	}
	if gjson.Valid(args) {
		return args
	}
	return resp.Text
}
