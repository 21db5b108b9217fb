package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"support-orchestrator/handler"
	"support-orchestrator/internal/config"
	"support-orchestrator/internal/domain"
	"support-orchestrator/internal/handlers"
	"support-orchestrator/internal/integrations/openai"
	"support-orchestrator/internal/integrations/paramstore"
	"support-orchestrator/internal/repository"
	"support-orchestrator/internal/router"
	"support-orchestrator/internal/session"
	"support-orchestrator/internal/usecase"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("environment", cfg.Environment)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Stores ----
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.State.Table)
	if err != nil {
		logger.Error("failed to create state store", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sessions, err := session.New(rdb, logger)
	if err != nil {
		logger.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	// ---- LLM gateway ----
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	apiKey, err := params.APIKey(ctx, cfg.Params.OpenAI)
	if err != nil {
		logger.Error("failed to read OpenAI credentials", "err", err)
		os.Exit(1)
	}
	gateway, err := openai.NewClientWithKey(apiKey, logger)
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Routing ----
	domainHandler, err := handlers.NewDomainHandler(gateway, sessions, sessions, store, logger)
	if err != nil {
		logger.Error("failed to create domain handler", "err", err)
		os.Exit(1)
	}
	outOfScopeHandler, err := handlers.NewOutOfScopeHandler(gateway, sessions, store, logger)
	if err != nil {
		logger.Error("failed to create out-of-scope handler", "err", err)
		os.Exit(1)
	}

	labeler, err := router.NewLabeler(gateway, sessions, store, logger)
	if err != nil {
		logger.Error("failed to create labeler", "err", err)
		os.Exit(1)
	}
	decider, err := router.NewDecider(gateway, sessions, logger)
	if err != nil {
		logger.Error("failed to create handoff decider", "err", err)
		os.Exit(1)
	}
	chatRouter, err := router.New(labeler, decider, sessions, store, map[domain.Label]router.Handler{
		domain.LabelDomain:     domainHandler,
		domain.LabelOutOfScope: outOfScopeHandler,
	}, logger)
	if err != nil {
		logger.Error("failed to create router", "err", err)
		os.Exit(1)
	}

	// ---- Orchestrator & transport ----
	chatService, err := usecase.NewChatService(sessions, store, chatRouter, logger)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(chatService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
