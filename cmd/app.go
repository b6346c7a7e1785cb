package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"cellgrid/agent"
	"cellgrid/aitools"
	"cellgrid/config"
	"cellgrid/engine"
	"cellgrid/llm"
	"cellgrid/planner"
	"cellgrid/scheduler"
	"cellgrid/store"
	"cellgrid/task"
)

// app is everything a command needs to plan and run collections.
type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	registry *llm.Registry
	tools    *aitools.Dispatcher
	cells    *scheduler.Limiter
	sections *scheduler.Limiter
	store    store.StateStore
	cache    *planner.Cache
	engine   *engine.Engine
}

// loadConfig loads the config at path (or CELLGRID_CONFIG), applies the
// CELLGRID_* overrides and validates the result.
func loadConfig(path string) (*config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = env.ConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(env)
	if err := cfg.Validate(); err != nil {
		cfg.Close()
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: cfg.Logging.NewLogger("cellgrid", os.Stderr)}
	for _, w := range cfg.PluginWarnings {
		a.logger.Warn(w)
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	var err error
	if a.registry, err = a.cfg.ModelRegistry(ctx); err != nil {
		return err
	}
	if a.cells, err = a.limiter(config.LimiterCells); err != nil {
		return err
	}
	if a.sections, err = a.limiter(config.LimiterSections); err != nil {
		return err
	}
	if a.store, err = store.NewStateStore(ctx, a.cfg.Storage); err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// get_target resolves through the engine, which needs the tool list
	// first; its source is set once the engine exists.
	lookup := &aitools.TargetLookupTool{}
	if err := a.registerTools(lookup); err != nil {
		return err
	}

	bus := engine.NewBus(a.logger)
	exec, err := agent.NewExecutor(agent.Options{
		Resolver:     a.registry,
		Dispatcher:   a.tools,
		IterationCap: a.cfg.Engine.IterationCap,
		Logger:       a.logger,
		EventLogger:  bus.EventLogger(),
		TurnLogDir:   a.cfg.Engine.TurnLogDir,
	})
	if err != nil {
		return err
	}

	opts := engine.Options{
		Executor: exec,
		Cells:    a.cells,
		Sections: a.sections,
		Store:    a.store,
		Bus:      bus,
		Logger:   a.logger,
	}
	if opts.RunBudget, err = a.cfg.Engine.Budget(); err != nil {
		return err
	}
	if a.cfg.Planner != nil {
		p, err := a.newPlanner()
		if err != nil {
			return fmt.Errorf("planner: %w", err)
		}
		opts.Planner = p
	}

	if a.engine, err = engine.New(opts); err != nil {
		return err
	}
	lookup.Source = a.engine
	return nil
}

func (a *app) limiter(name string) (*scheduler.Limiter, error) {
	l := a.cfg.Limiter(name)
	timeout, err := l.Timeout()
	if err != nil {
		return nil, fmt.Errorf("limiter '%s': %w", name, err)
	}
	return scheduler.New(name, l.Width,
		scheduler.WithLogger(a.logger),
		scheduler.WithQueueTimeout(timeout)), nil
}

// registerTools registers the built-in tools and every tool of every loaded
// plugin.
func (a *app) registerTools(lookup *aitools.TargetLookupTool) error {
	a.tools = aitools.NewDispatcher(aitools.WithLogger(a.logger))
	if err := a.tools.Register(lookup); err != nil {
		return err
	}
	if a.cfg.Engine.HTTPTool {
		if err := a.tools.Register(&aitools.HTTPGetTool{}); err != nil {
			return err
		}
	}
	for name, pc := range a.cfg.LoadedPlugins {
		tools, err := pc.Tools()
		if err != nil {
			return fmt.Errorf("plugin '%s': %w", name, err)
		}
		for _, t := range tools {
			if err := a.tools.Register(t); err != nil {
				return fmt.Errorf("plugin '%s': %w", name, err)
			}
		}
		a.logger.Debug("plugin tools registered", "plugin", name, "tools", len(tools))
	}
	return nil
}

func (a *app) newPlanner() (*planner.Planner, error) {
	pc := a.cfg.Planner
	model, err := task.ParseModelSelector(pc.Model)
	if err != nil {
		return nil, err
	}
	defaultModel, err := task.ParseModelSelector(pc.DefaultModel)
	if err != nil {
		return nil, err
	}
	if pc.CacheSize > 0 {
		ttl, err := pc.TTL()
		if err != nil {
			return nil, err
		}
		if a.cache, err = planner.NewCache(int64(pc.CacheSize), ttl); err != nil {
			return nil, err
		}
	}
	return planner.New(planner.Options{
		Resolver:    a.registry,
		Model:       model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Defaults: planner.Defaults{
			Model:       defaultModel,
			Temperature: pc.TaskTemperature,
			MaxTokens:   pc.TaskMaxTokens,
		},
		Models: a.registry.Models(),
		Tools:  a.tools.Subset(a.tools.Names()),
		Cache:  a.cache,
		Logger: a.logger,
	})
}

// Close cancels in-flight cells and releases everything the app opened.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	a.cfg.Close()
}
