// Package runner produces the work functions warren executes against
// sub-tasks: Claude-backed reasoning over the assignment's branch, or a
// simulated stand-in for dry runs.
package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// ClientConfig contains configuration for creating an Anthropic client.
type ClientConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// NewClient creates an Anthropic client for the direct API or Bedrock.
func NewClient(ctx context.Context, cfg ClientConfig) (anthropic.Client, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return anthropic.Client{}, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return anthropic.NewClient(opts...), nil
}

// ResolveModel maps a model name to the form the transport expects. Bedrock
// uses cross-region inference profiles: us.anthropic.{model}-v1:0.
func ResolveModel(model anthropic.Model, useBedrock bool) anthropic.Model {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if !useBedrock {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if m, ok := bedrockModels[model]; ok {
		return anthropic.Model(m)
	}
	return model
}
