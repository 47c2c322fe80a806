package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// DefaultAssetURIPattern matches the simulated asset bucket.
const DefaultAssetURIPattern = `^s3://[a-z0-9][a-z0-9.-]*/\S+$`

// Request describes an asset produced for a task.
type Request struct {
	TaskID      string
	URI         string
	Description string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Allowed is shorthand for Effect == EffectAllow.
func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine vets generated assets before they are recorded.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine checks the asset URI against an allowed pattern and the
// description against denied patterns.
type DefaultPolicyEngine struct {
	URIPattern  *regexp.Regexp
	DeniedRegex []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		URIPattern:  regexp.MustCompile(DefaultAssetURIPattern),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// RequireURI replaces the allowed asset URI pattern. An empty pattern allows any URI.
func (e *DefaultPolicyEngine) RequireURI(pattern string) error {
	if pattern == "" {
		e.URIPattern = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.URIPattern = re
	return nil
}

func (e *DefaultPolicyEngine) DenyContent(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if e.URIPattern != nil && !e.URIPattern.MatchString(req.URI) {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("asset uri %q does not match %s", req.URI, e.URIPattern.String()),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Description) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("description matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}
