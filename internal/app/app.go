// Package app wires the shared service graph for the Lambda binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssdklambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"golf-coach/internal/integrations/awslambda"
	"golf-coach/internal/integrations/openai"
	"golf-coach/internal/integrations/paramstore"
	"golf-coach/internal/repository"
	"golf-coach/internal/usecase"
)

// App is the constructed service graph. Each binary uses the slice it needs.
type App struct {
	Repo     *repository.Client
	Invoker  *awslambda.Invoker
	Analysis *usecase.AnalysisService
	Chat     *usecase.ChatService
	Rate     *usecase.RateGovernor
}

// New loads configuration and builds every service. Environment variables are
// read only here; prompts, model names, and the API key live in SSM under
// PARAM_PREFIX.
func New(ctx context.Context) (*App, error) {
	analysesTable := MustEnv("ANALYSES_TABLE")
	threadsTable := MustEnv("THREADS_TABLE")
	paramPrefix := MustEnv("PARAM_PREFIX")
	extractorFn := MustEnv("EXTRACTOR_FUNCTION")
	workerFn := MustEnv("WORKER_FUNCTION")
	batchSize := EnvInt("FRAME_BATCH_SIZE", 10)
	maxChatTurns := EnvInt("MAX_CHAT_TURNS", 12)
	rateLimit := EnvInt("RATE_LIMIT_PER_HOUR", 10)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app: create paramstore client: %w", err)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(cfg), analysesTable, threadsTable)
	if err != nil {
		return nil, fmt.Errorf("app: create repository: %w", err)
	}
	invoker, err := awslambda.NewInvoker(awssdklambda.NewFromConfig(cfg), extractorFn, workerFn)
	if err != nil {
		return nil, fmt.Errorf("app: create invoker: %w", err)
	}
	llm, err := openai.NewClient(params, paramPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	prefix := strings.TrimRight(paramPrefix, "/")
	assistantID, err := params.GetParameter(ctx, prefix+"/config/assistant_id")
	if err != nil {
		return nil, fmt.Errorf("app: load assistant id: %w", err)
	}
	chatModel, err := params.GetParameter(ctx, prefix+"/config/chat_model")
	if err != nil {
		return nil, fmt.Errorf("app: load chat model: %w", err)
	}

	threads, err := usecase.NewThreadManager(repo, llm, assistantID)
	if err != nil {
		return nil, fmt.Errorf("app: create thread manager: %w", err)
	}
	analyzer, err := usecase.NewSwingAnalyzer(threads, llm, usecase.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("app: create analyzer: %w", err)
	}
	analysis, err := usecase.NewAnalysisService(repo, invoker, analyzer)
	if err != nil {
		return nil, fmt.Errorf("app: create analysis service: %w", err)
	}

	registry, err := usecase.NewToolRegistry(repo, 0)
	if err != nil {
		return nil, fmt.Errorf("app: create tool registry: %w", err)
	}
	history, err := usecase.NewChatHistory(repo, maxChatTurns)
	if err != nil {
		return nil, fmt.Errorf("app: create chat history: %w", err)
	}
	chat, err := usecase.NewChatService(llm, registry, history, chatModel)
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}
	rate, err := usecase.NewRateGovernor(usecase.NewMemoryRateStore(), usecase.WithBaseLimit(rateLimit))
	if err != nil {
		return nil, fmt.Errorf("app: create rate governor: %w", err)
	}

	return &App{
		Repo:     repo,
		Invoker:  invoker,
		Analysis: analysis,
		Chat:     chat,
		Rate:     rate,
	}, nil
}

// MustEnv reads a required environment variable or exits.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "required environment variable %s is not set\n", key)
		os.Exit(1)
	}
	return v
}

// EnvInt reads an integer environment variable, falling back to def.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
