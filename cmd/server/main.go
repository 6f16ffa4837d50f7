package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"codeloom/internal/changelog"
	"codeloom/internal/config"
	"codeloom/internal/domain/models/chat"
	domainllm "codeloom/internal/domain/services/llm"
	"codeloom/internal/locking"
	"codeloom/internal/project"
	"codeloom/internal/repository/postgres"
	"codeloom/internal/service/conversation"
	"codeloom/internal/service/engine"
	serviceLLM "codeloom/internal/service/llm"
	"codeloom/internal/service/llm/providers/anthropic"
	"codeloom/internal/service/llm/providers/openai"
	"codeloom/internal/service/tools"
	"codeloom/internal/vcs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser, err := config.NewLogger(cfg.Environment, cfg.LogDir, cfg.MaxLogFiles)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	logger.Info("codeloom starting",
		"environment", cfg.Environment,
		"table_prefix", cfg.TablePrefix,
		"provider", cfg.DefaultProvider,
		"model", cfg.DefaultModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	if cfg.TablePrefix == "" {
		if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(cfg.TablePrefix),
		Logger: logger,
	}
	store := postgres.NewConversationStore(repoConfig)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	changeStore := postgres.NewChangeLogStore(repoConfig)

	// Providers
	factory := serviceLLM.NewFactory(logger)
	if cfg.AnthropicAPIKey != "" {
		adapter, err := anthropic.NewAdapter(cfg.AnthropicAPIKey, logger)
		if err != nil {
			log.Fatalf("Failed to create anthropic adapter: %v", err)
		}
		factory.Register(adapter)
	}
	if cfg.OpenAIAPIKey != "" {
		adapter, err := openai.NewAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, logger)
		if err != nil {
			log.Fatalf("Failed to create openai adapter: %v", err)
		}
		factory.Register(adapter)
	}

	cache, err := serviceLLM.NewResponseCache(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to create response cache: %v", err)
	}
	speaker := serviceLLM.NewSpeaker(factory, cache, serviceLLM.SpeakerConfig{
		MaxRetries:  cfg.MaxSpeakRetries,
		Backoff:     cfg.RetryBackoff,
		IgnoreCache: cfg.IgnoreCache,
	}, logger)

	// Project
	projectCtx, err := project.NewContext(cfg.ProjectRoot)
	if err != nil {
		log.Fatalf("Failed to open project root: %v", err)
	}
	var repo *vcs.Repo
	if r, err := vcs.Open(projectCtx.Root()); err == nil {
		repo = r
	} else if !errors.Is(err, vcs.ErrNotRepository) {
		logger.Warn("failed to open VCS repository", "error", err)
	}

	// Tools
	manifest, err := tools.LoadManifest(cfg.ToolManifest)
	if err != nil {
		log.Fatalf("Failed to load tool manifest: %v", err)
	}
	changes := tools.NewChangeCollector()
	locks := locking.NewPathLocks()
	registry := tools.NewBuilder(manifest, logger).
		WithProjectTools(projectCtx, changes, locks).
		WithCommandTool(projectCtx, cfg.AllowedCommands).
		WithWebTools().
		Build()

	eng := engine.New(
		engine.Config{MaxTurns: cfg.MaxTurns},
		registry,
		changes,
		changelog.NewLog(changeStore, projectCtx, logger),
		repo,
		engine.NewAggregateStats(),
		logger,
	)
	eng.AddListener(&consoleListener{})

	deps := conversation.Deps{
		Speaker: speaker,
		Store:   store,
		Project: projectCtx,
		VCS:     repo,
		Logger:  logger,
	}
	conv, err := openConversation(ctx, cfg, deps)
	if err != nil {
		log.Fatalf("Failed to open conversation: %v", err)
	}
	eng.SetConversation(conv)

	watcher, err := project.NewWatcher(projectCtx, conv.RefreshAttachment, logger)
	if err != nil {
		logger.Warn("file watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
		conv.SetFileWatcher(watcher.Watch)
	}

	logger.Info("ready", "conversation_id", conv.ID)
	runStatementLoop(ctx, eng, logger)
	logger.Info("shutting down")
}

// openConversation resumes CONVERSATION_ID when set and previously
// persisted, otherwise starts fresh.
func openConversation(ctx context.Context, cfg *config.Config, deps conversation.Deps) (*conversation.Conversation, error) {
	if id := os.Getenv("CONVERSATION_ID"); id != "" {
		conv, err := conversation.Load(ctx, id, deps)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}
	return conversation.New(conversation.Params{
		Provider:  domainllm.Provider(cfg.DefaultProvider),
		Model:     cfg.DefaultModel,
		System:    "You are a coding assistant working inside the user's project. Wrap your final answer in <reply></reply>.",
		MaxTokens: cfg.MaxTokens,
	}, deps), nil
}

// runStatementLoop reads statements from stdin until EOF or signal.
func runStatementLoop(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := eng.HandleStatement(ctx, line); err != nil {
				logger.Error("statement failed", "error", err)
			}
		}
	}
}

// consoleListener prints answers and progress entries to stdout.
type consoleListener struct{}

func (consoleListener) OnStatement(event chat.StatementEvent) {
	switch event.LogEntry.EntryType {
	case chat.EntryTypeAnswer:
		fmt.Println(event.LogEntry.Content)
	case chat.EntryTypeToolUse:
		fmt.Printf("[tool] %s\n", event.LogEntry.Content)
	}
}

func (consoleListener) OnError(event chat.ErrorEvent) {
	fmt.Fprintf(os.Stderr, "error (%s): %s\n", event.Code, event.Error)
}
