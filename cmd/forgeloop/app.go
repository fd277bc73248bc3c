package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	// Register generation providers via init()
	_ "github.com/forgeloop/forgeloop/llm/providers"

	"github.com/forgeloop/forgeloop/backend"
	"github.com/forgeloop/forgeloop/bootstrap"
	"github.com/forgeloop/forgeloop/config"
	"github.com/forgeloop/forgeloop/evaluate"
	"github.com/forgeloop/forgeloop/events"
	"github.com/forgeloop/forgeloop/gitops"
	"github.com/forgeloop/forgeloop/llm"
	"github.com/forgeloop/forgeloop/loop"
	"github.com/forgeloop/forgeloop/metrics"
	"github.com/forgeloop/forgeloop/workspace"
)

func run(opts runOptions) error {
	logger := setupLogging(opts.logLevel)

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if server := metrics.Serve(cfg.Metrics.Listen, logger); server != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	emitter, closeEmitter, err := buildEmitter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEmitter()

	dispatcher, err := buildDispatcher(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	extractor := llm.NewExtractor(dispatcher, cfg.Dispatcher.StructuredRetries, logger)

	projectDir, remoteURL, err := resolveProject(ctx, opts, cfg, dispatcher, logger)
	if err != nil {
		return err
	}
	workspaceDir := filepath.Join(projectDir, cfg.Project.WorkspaceDir)

	writer, err := workspace.NewWriter(workspaceDir, logger)
	if err != nil {
		return err
	}
	store := workspace.NewStore(projectDir, workspaceDir, cfg.Iteration.SnapshotKeep, logger)
	guard := workspace.NewGuard(workspaceDir, logger)
	evaluator := evaluate.New(workspaceDir, cfg.Evaluation.RequiredFile, logger)

	repo := gitops.NewRepo(projectDir, remoteURL, cfg.Iteration.PushEvery, gitops.WithRepoLogger(logger))
	if err := repo.Init(ctx); err != nil {
		return fmt.Errorf("init repository: %w", err)
	}

	controller, err := loop.NewController(projectDir, workspaceDir, loop.Config{
		MaxIterations:      cfg.Iteration.MaxIterations,
		MaxMinutes:         cfg.Iteration.MaxMinutes,
		StopAfterPasses:    cfg.Iteration.StopAfterPasses,
		StopAfterNoChange:  cfg.Iteration.StopAfterNoChange,
		Interval:           cfg.Iteration.Interval,
		PromptFileLimit:    cfg.Iteration.PromptFileLimit,
		PromptCharsPerFile: cfg.Iteration.PromptCharsPerFile,
		EvalLogTailChars:   cfg.Iteration.EvalLogTailChars,
		IgnoreGlobs:        cfg.Project.IgnoreGlobs,
	}, loop.Deps{
		Extractor:  extractor,
		Writer:     writer,
		Evaluator:  evaluator,
		Store:      store,
		Repo:       repo,
		Dispatcher: dispatcher,
		Emitter:    emitter,
		Metrics:    m,
		Guard:      guard,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Forgeloop ready",
		"version", Version,
		"project", projectDir,
		"backends", len(cfg.Backends))

	if err := controller.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("Interrupted, shutting down")
			return nil
		}
		return err
	}
	return nil
}

func setupLogging(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(opts runOptions, logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, err
	}

	// Flag overrides beat every config layer.
	if opts.iterations > 0 {
		cfg.Iteration.MaxIterations = opts.iterations
	}
	if opts.interval > 0 {
		cfg.Iteration.Interval = opts.interval
	}
	if opts.maxMinutes > 0 {
		cfg.Iteration.MaxMinutes = opts.maxMinutes
	}
	return cfg, nil
}

func buildEmitter(cfg *config.Config, logger *slog.Logger) (events.Emitter, func(), error) {
	natsEmitter, err := events.NewNATSEmitter(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect event stream: %w", err)
	}
	return events.Multi{events.NewLogEmitter(logger), natsEmitter}, natsEmitter.Close, nil
}

func buildDispatcher(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*llm.Dispatcher, error) {
	names := make([]string, 0, len(cfg.Backends))
	endpoints := make(map[string]llm.Endpoint, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, b.Name)
		endpoints[b.Name] = llm.Endpoint{Provider: b.Provider, URL: b.URL}
	}

	client := &http.Client{Timeout: cfg.Dispatcher.RequestTimeout}

	// Intersect the configured list against what the services actually
	// serve; probe failures keep the list unfiltered.
	selector, err := backend.NewFiltered(ctx, names,
		llm.NewModelProbe(endpoints, client, logger),
		backend.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	transport := llm.NewHTTPTransport(endpoints, client, logger)

	return llm.NewDispatcher(selector, transport, llm.DispatchConfig{
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		RateCooldown: cfg.Dispatcher.RateCooldown,
		SwitchWait:   cfg.Dispatcher.SwitchWait,
	},
		llm.WithDispatcherLogger(logger),
		llm.WithRotationHook(func(reason string) {
			m.BackendRotationsTotal.WithLabelValues(reason).Inc()
		}),
		llm.WithSwitchHook(func(from, to backend.Backend) {
			logger.Info("Backend switched", "from", from.Name, "to", to.Name)
		}),
	), nil
}

// resolveProject either bootstraps a fresh project from the brief or resumes
// an existing project directory.
func resolveProject(ctx context.Context, opts runOptions, cfg *config.Config, dispatcher *llm.Dispatcher, logger *slog.Logger) (projectDir, remoteURL string, err error) {
	remoteURL = opts.remoteURL

	if opts.briefPath != "" {
		projectsDir := cfg.Project.Root
		if projectsDir == "" {
			projectsDir = "projects"
		}
		project, err := bootstrap.New(dispatcher, logger).Run(ctx, opts.briefPath, projectsDir)
		if err != nil {
			return "", "", fmt.Errorf("bootstrap: %w", err)
		}
		if remoteURL == "" {
			remoteURL = project.GitHub
		}
		return project.Dir, remoteURL, nil
	}

	abs, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return "", "", fmt.Errorf("resolve project dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("stat project dir: %w", err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, remoteURL, nil
}
