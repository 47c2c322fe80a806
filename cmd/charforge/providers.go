package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rahul/charforge/internal/agent"
	"github.com/rahul/charforge/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// newModel builds the langchaingo model for the first enabled provider.
func newModel(ctx context.Context, cfg *config.Config) (string, llms.Model, error) {
	name, p := cfg.DefaultProvider()
	if name == "" {
		return "", nil, fmt.Errorf("no enabled provider found in config")
	}

	var (
		llm llms.Model
		err error
	)
	switch name {
	case config.ProviderOpenAI, config.ProviderOpenRouter:
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		baseURL := p.BaseURL
		if baseURL == "" && name == config.ProviderOpenRouter {
			baseURL = openRouterBaseURL
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err = openai.New(opts...)
	case config.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		llm, err = anthropic.New(opts...)
	case config.ProviderBedrock:
		var client *bedrockruntime.Client
		client, err = newBedrockClient(ctx, p)
		if err == nil {
			llm, err = bedrock.New(bedrock.WithClient(client), bedrock.WithModel(p.Model))
		}
	default:
		return name, nil, fmt.Errorf("provider %s not yet implemented", name)
	}
	if err != nil {
		return name, nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return name, llm, nil
}

// newBedrockClient uses static keys when configured and the AWS default
// credential chain otherwise.
func newBedrockClient(ctx context.Context, p config.ProviderConfig) (*bedrockruntime.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(p.Region)}
	if p.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, p.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if p.BaseURL != "" {
			o.BaseEndpoint = aws.String(p.BaseURL)
		}
	}), nil
}

// samplingFor maps configured sampling onto the agent names.
func samplingFor(cfg *config.Config) map[string]agent.Sampling {
	names := map[string]string{
		config.AgentPlanner:     agent.NamePlanner,
		config.AgentSupervisor:  agent.NameSupervisor,
		config.AgentRoleCreator: agent.NameRoleCreator,
	}
	out := make(map[string]agent.Sampling, len(names))
	for key, s := range cfg.Sampling() {
		out[names[key]] = agent.Sampling{Temperature: s.Temperature, MaxTokens: s.MaxTokens, UseTools: s.UseTools}
	}
	return out
}
