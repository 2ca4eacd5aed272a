package config

// DefaultSystemPrompt steers the model toward short, tool-frugal answers.
const DefaultSystemPrompt = `You are an AWS DevOps assistant. Help with AWS infrastructure and operations.

Efficiency rules:
- Answer from knowledge first before using tools
- Use tools only when you need current or specific data
- At most one tool call per response
- Keep responses under 300 words
- Be direct and actionable`

// GetDefaultConfig returns the built-in configuration. User and project
// config files are layered on top of it by LoadConfig.
func GetDefaultConfig() Config {
	return Config{
		Providers: []ProviderConfig{
			{
				Name:    "aws-docs",
				Command: "uvx",
				Args:    []string{"awslabs.aws-documentation-mcp-server@latest"},
			},
			{
				Name:    "aws-knowledge",
				Command: "uvx",
				Args: []string{
					"mcp-proxy",
					"--transport", "streamablehttp",
					"https://knowledge-mcp.global.api.aws",
				},
			},
			{
				Name:    "aws-eks",
				Command: "uvx",
				Args: []string{
					"awslabs.eks-mcp-server@latest",
					"--allow-write",
					"--allow-sensitive-data-access",
				},
				Env: map[string]string{
					"AWS_DEFAULT_REGION": "us-east-1",
					"AWS_REGION":         "us-east-1",
				},
			},
		},
		Timeouts: TimeoutConfig{
			SearchSeconds:  10,
			TurnSeconds:    45,
			ConnectSeconds: 30,
		},
		Model: ModelConfig{
			BaseURL:      "http://localhost:11434",
			ID:           "qwen2.5:14b",
			Temperature:  0.3,
			SystemPrompt: DefaultSystemPrompt,
		},
		Search: SearchConfig{
			Region:          "us-en",
			MaxResults:      3,
			MaxResultsLimit: 5,
		},
	}
}
