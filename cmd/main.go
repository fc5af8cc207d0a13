package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-agent/handler"
	"support-agent/internal/app"
	agentconfig "support-agent/internal/config"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/paramstore"
	"support-agent/internal/integrations/ticketing"
	"support-agent/internal/repository"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	ticketsURL := mustEnv("TICKETS_URL")
	modelBaseURL := os.Getenv("MODEL_BASE_URL")
	profilePath := os.Getenv("AGENT_CONFIG")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	var llmOpts []openai.Option
	if modelBaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(modelBaseURL))
	}
	llmClient, err := openai.NewClient(ssmClient, paramPrefix, llmOpts...)
	if err != nil {
		slog.Error("failed to create model client", "err", err)
		os.Exit(1)
	}

	ticketClient, err := ticketing.NewClient(ticketsURL)
	if err != nil {
		slog.Error("failed to create ticketing client", "err", err)
		os.Exit(1)
	}

	profile, err := loadProfile(ctx, ssmClient, paramPrefix, profilePath)
	if err != nil {
		slog.Error("failed to load agent profile", "err", err)
		os.Exit(1)
	}

	// ---- Agents ----
	agents, err := app.Build(app.Deps{
		Profile:   profile,
		LLM:       llmClient,
		RateStore: stateClient,
		Tickets:   ticketClient,
		Briefs:    stateClient,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("failed to build agents", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(agents.Support, agents.Scoping,
		handler.WithLogger(logger),
		handler.WithRetryAfter(profile.RateWindow),
	)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// loadProfile prefers a bundled file, then the <prefix>/config/agent
// parameter, then the built-in defaults.
func loadProfile(ctx context.Context, ps *paramstore.Client, paramPrefix, path string) (*agentconfig.Profile, error) {
	if path != "" {
		return agentconfig.Load(path)
	}
	raw, found, err := ps.GetOptionalParameter(ctx, paramPrefix+"/config/agent")
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Info("no agent profile parameter, using defaults")
		return agentconfig.Defaults(), nil
	}
	return agentconfig.Parse([]byte(raw))
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
