package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loomworks/loom/internal/api"
	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/loop"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/notify"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/selfheal"
	"github.com/loomworks/loom/internal/skills"
	pgstore "github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Loom...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/loom.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Audit log: the durable sink for dispatch and heal evidence.
	auditPath := cfg.SelfHeal.AuditLog
	if auditPath == "" {
		auditPath = "loom_audit.log"
	}
	auditLog, err := audit.Open(auditPath, logger)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.String("path", auditPath), zap.Error(err))
	}
	defer auditLog.Close()

	hub := events.NewHub(logger)

	// Reasoning providers.
	router := provider.NewRouter(logger)
	if cfg.Reasoner.MockMode {
		router.Register(provider.NewStubProvider("mock", nil))
		logger.Info("Mock reasoning mode enabled")
	}
	for _, pc := range cfg.Reasoner.Providers {
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provider.Config{
				ID: pc.ID, Type: pc.Type, Name: pc.Name,
				Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
			}, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Reasoner.Default != "" {
		router.SetDefault(cfg.Reasoner.Default)
	}
	router.SetFallbacks(cfg.Reasoner.Fallbacks)

	// Embedding provider for the semantic tier.
	var embedder embedding.Provider
	embedCfg := embedding.Config{
		Provider: cfg.Embedding.Provider, Endpoint: cfg.Embedding.Endpoint,
		Model: cfg.Embedding.Model, APIKey: cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	if cfg.Embedding.Provider == "api" && cfg.Embedding.Endpoint != "" {
		embedder = embedding.NewAPIProvider(embedCfg)
	} else {
		embedder = embedding.NewLocalProvider(embedCfg)
	}

	// Vector store behind L4.
	var vstore *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vs, vsErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host, Port: cfg.Database.Qdrant.Port,
		})
		if vsErr != nil {
			logger.Warn("Qdrant unavailable, semantic tier disabled", zap.Error(vsErr))
		} else {
			vstore = vs
			defer vstore.Close()
		}
	}

	facade := memory.NewFacade(hub, logger)
	var semantic *memory.Semantic
	if vstore != nil {
		semantic = memory.NewSemantic(vstore, embedder, hub, logger)
	}

	// Skill registry and catalog.
	registryDir := cfg.Dispatch.RegistryDir
	if registryDir == "" {
		registryDir = "skills"
	}
	projectRoot := cfg.Dispatch.ProjectRoot
	if projectRoot == "" {
		projectRoot = "."
	}
	catalog := skills.NewCatalog(registryDir)
	registry := dispatch.NewRegistry()
	skills.RegisterBuiltins(registry, projectRoot, catalog)
	if cataloged, catErr := catalog.Load(); catErr != nil {
		logger.Warn("skill catalog load failed", zap.Error(catErr))
	} else {
		skills.RegisterCataloged(registry, cataloged)
		logger.Info("Skill catalog loaded", zap.Int("count", len(cataloged)))
	}

	// Dispatch bus for mediated mode.
	var bus *dispatch.Bus
	if cfg.Dispatch.Mode == dispatch.ModeMediated {
		b, busErr := dispatch.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Fatal("mediated mode requires Redis", zap.Error(busErr))
		}
		bus = b
		defer bus.Close()
	}

	mediator := dispatch.NewMediator(registry, bus, dispatch.Config{
		Mode:             cfg.Dispatch.Mode,
		MockMode:         cfg.Reasoner.MockMode,
		DefaultTimeoutMS: cfg.Dispatch.DefaultTimeoutMS,
		MaxTimeoutMS:     cfg.Dispatch.MaxTimeoutMS,
	}, auditLog, hub, logger)

	// Reviewer notifications.
	notifiers := notify.NewMulti(logger)
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers.Add(notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dnErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dnErr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(dnErr))
		} else {
			notifiers.Add(dn)
			defer dn.Close()
		}
	}

	// Self-heal pipeline.
	approvalDir := cfg.SelfHeal.ApprovalDir
	if approvalDir == "" {
		approvalDir = "approvals"
	}
	gate := selfheal.NewFileSignal(approvalDir,
		time.Duration(cfg.SelfHeal.PollIntervalMS)*time.Millisecond,
		time.Duration(cfg.SelfHeal.PollTimeoutMS)*time.Millisecond)

	evolveFn := func(name, patch string) (string, error) {
		entry, evErr := catalog.Evolve(name, patch)
		if evErr != nil {
			return "", evErr
		}
		skills.RegisterCataloged(registry, []*skills.Entry{entry})
		return entry.Name, nil
	}

	var searcher selfheal.Searcher
	if semantic != nil {
		searcher = semantic
	}
	heal := selfheal.NewWatchdog(gate, searcher, registry, evolveFn, selfheal.Config{
		AutoEvolve:    cfg.SelfHeal.AutoEvolve,
		ForceTestFail: cfg.SelfHeal.ForceTestFail,
	}, auditLog, hub, logger)

	// Optional persistence.
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pg = ps
			defer pg.Close()
		}
	}

	// The reasoning loop.
	runner := loop.NewRunner(router, mediator, facade, heal, nil, loop.Config{
		MaxDepth:   cfg.Loop.MaxDepth,
		ContextCap: cfg.Loop.ContextCap,
		MaxTurns:   cfg.Loop.MaxTurns,
	}, auditLog, hub, logger)

	// Persist every finished session and announce gated patches.
	go runSinks(context.Background(), hub, pg, notifiers, logger)

	handler := api.NewHandler(runner, mediator, facade, semantic, heal, hub, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Loom listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Loom...")
	srv.Shutdown(context.Background())
}

// runSinks drains the event stream into persistence and reviewer
// notifications.
func runSinks(ctx context.Context, hub *events.Hub, pg *pgstore.Store, notifiers *notify.Multi, logger *zap.Logger) {
	ch, cancel := hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch evt.Kind {
			case events.SessionEnded:
				if pg == nil {
					continue
				}
				converged, _ := evt.Fields["converged"].(bool)
				forced, _ := evt.Fields["forced"].(bool)
				query, _ := evt.Fields["query"].(string)
				text, _ := evt.Fields["text"].(string)
				errText, _ := evt.Fields["error"].(string)
				rec := &pgstore.SummaryRecord{
					SessionID: evt.SessionID,
					Query:     query,
					Text:      text,
					Converged: converged,
					Forced:    forced,
					Error:     errText,
				}
				if err := pg.SaveSummary(ctx, rec); err != nil {
					logger.Warn("summary persist failed", zap.Error(err))
				}
			case events.Error:
				patchID, ok := evt.Fields["patch"].(string)
				if !ok {
					continue
				}
				state, ok := evt.Fields["state"].(string)
				if !ok {
					continue
				}
				notifiers.Notify(ctx, "Patch "+state,
					fmt.Sprintf("patch %s reached state %s (session %s)", patchID, state, evt.SessionID))
				if pg != nil {
					skill, _ := evt.Fields["skill"].(string)
					component, _ := evt.Fields["component"].(string)
					reason, _ := evt.Fields["reason"].(string)
					if err := pg.SavePatchDecision(ctx, patchID, evt.SessionID, skill, component, state, reason); err != nil {
						logger.Warn("patch decision persist failed", zap.Error(err))
					}
				}
			}
		}
	}
}
