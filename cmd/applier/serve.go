package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/applier/internal/agents"
	"github.com/jonathan/applier/internal/browser"
	"github.com/jonathan/applier/internal/captcha"
	"github.com/jonathan/applier/internal/config"
	"github.com/jonathan/applier/internal/discovery"
	"github.com/jonathan/applier/internal/drafting"
	"github.com/jonathan/applier/internal/engine"
	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/matching"
	"github.com/jonathan/applier/internal/ratelimit"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/server"
	"github.com/jonathan/applier/internal/store"
	"github.com/jonathan/applier/internal/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine and REST API",
	Long: `Starts the run orchestration engine and the HTTP API in one process.

Configuration comes from a JSON file (--config) with environment overrides for
secrets: DATABASE_URL, GEMINI_API_KEY, WEBHOOK_TOKEN, LISTEN_ADDR, JWT_SECRET,
and OPERATOR_PASSWORD_HASH.`,
	RunE: runServe,
}

var (
	serveConfigPath string
	serveListenAddr string
	serveBoardURL   string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveBoardURL, "board-url", "https://boards.greenhouse.io", "Job board base URL")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = serveListenAddr
	}

	st, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	providers := llm.NewRegistry()
	defer func() { _ = providers.Close() }()
	if cfg.APIKey != "" {
		client, err := llm.NewClient(ctx, llm.DefaultGeminiConfig(), cfg.APIKey)
		if err != nil {
			return fmt.Errorf("failed to create LLM client: %w", err)
		}
		throttled := llm.Throttle(client, cfg.Engine.LLMRequestsPerMinute)
		providers.Register(throttled, llm.CapabilityText, llm.CapabilityJSON, llm.CapabilityVision)
	} else {
		log.Println("GEMINI_API_KEY not set; document generation and challenge solving will fail")
	}

	profiles := matching.NewFileProfileProvider(cfg.ProfilePath)
	applicant, err := profiles.Profile(ctx, uuid.Nil)
	if err != nil {
		return fmt.Errorf("failed to load applicant profile: %w", err)
	}

	pool := browser.NewPool(ctx, cfg.Engine.BrowserSessions)
	defer pool.Close()
	forms := browser.NewAutomation(pool, applicant, cfg.ArtifactDir)

	var notifier agents.StatusNotifier = tracking.LogNotifier{}
	if cfg.WebhookURL != "" {
		notifier = tracking.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookToken)
	}

	registry := agents.NewRegistry()
	adapters := []agents.Adapter{
		agents.NewHuntAdapter(discovery.NewBoardSource(serveBoardURL).EnableBrowserRendering()),
		agents.NewMatchAdapter(profiles,
			matching.NewHybridScorer(matching.NewKeywordScorer(), matching.NewLLMScorer(providers)),
			matching.NewStoreHistory(st), cfg.Engine.MatchThreshold),
		agents.NewContentAdapter(profiles, drafting.NewGenerator(providers, cfg.ArtifactDir)),
		agents.NewFormFillAdapter(forms),
		agents.NewChallengeAdapter(captcha.NewSolver(providers), cfg.Engine.ChallengeAttempts),
		agents.NewSubmitAdapter(forms),
		agents.NewMonitorAdapter(tracking.NewPortalTracker(providers)),
		agents.NewSyncAdapter(notifier),
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return fmt.Errorf("failed to register adapter: %w", err)
		}
	}

	controller := retry.NewController(retry.Policy{
		MaxAttempts:   cfg.Engine.MaxAttempts,
		BackoffBase:   cfg.Engine.BackoffBase(),
		BackoffFactor: 4,
	}, nil)
	eng := engine.New(st, registry, controller, cfg.Engine)

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	go func() {
		if err := eng.Start(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("engine stopped: %v", err)
		}
	}()

	operator, err := loadOperator()
	if err != nil {
		return err
	}
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}
	pwCfg, err := config.NewPasswordConfig()
	if err != nil {
		return fmt.Errorf("failed to create password config: %w", err)
	}

	srv, err := server.New(server.Options{
		ListenAddr: cfg.ListenAddr,
		Operator:   operator,
		JWT:        jwtCfg,
		Passwords:  pwCfg,
		RateLimit:  ratelimit.DefaultConfig(),
	}, eng, st)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise.
func openStore(ctx context.Context, databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		log.Println("DATABASE_URL not set; using in-memory store, state will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	pg, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return pg, nil
}

// loadOperator reads the single operator credential from the environment.
func loadOperator() (server.Operator, error) {
	hash := os.Getenv("OPERATOR_PASSWORD_HASH")
	if hash == "" {
		return server.Operator{}, fmt.Errorf("OPERATOR_PASSWORD_HASH is required but not set (generate one with 'applier hash-password')")
	}

	// A stable default keeps run ownership consistent across restarts when
	// OPERATOR_ID is not configured.
	operatorID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("applier/operator"))
	if raw := os.Getenv("OPERATOR_ID"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return server.Operator{}, fmt.Errorf("invalid OPERATOR_ID: %w", err)
		}
		operatorID = parsed
	}

	return server.Operator{ID: operatorID, PasswordHash: hash}, nil
}
