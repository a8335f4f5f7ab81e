// Package main wires configuration into a running pipeline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/hackmate/internal/checkpoint"
	"github.com/vinayprograms/hackmate/internal/config"
	"github.com/vinayprograms/hackmate/internal/events"
	"github.com/vinayprograms/hackmate/internal/pipeline"
	"github.com/vinayprograms/hackmate/internal/skills"
	"github.com/vinayprograms/hackmate/internal/supervision"
	"github.com/vinayprograms/hackmate/internal/tools"
	"github.com/vinayprograms/hackmate/internal/transcript"
	"github.com/vinayprograms/hackmate/internal/worker"
)

// globals is bound into every command's Run method.
type globals struct {
	cli *CLI
	ctx context.Context
	out io.Writer
	in  io.Reader

	// prompt overrides the human prompt; nil picks one from in.
	prompt func(question string) (string, error)
	// provider overrides the configured LLM provider.
	provider llm.Provider
}

func (g *globals) options() transcript.Options {
	return transcript.Options{Width: g.cli.Width, Color: !g.cli.NoColor && isTerminal(g.out)}
}

// runtime holds the components of one CLI invocation.
type runtime struct {
	cfg      *config.Config
	store    checkpoint.Store
	provider llm.Provider
	engine   *pipeline.Engine
	telem    telemetry.Exporter
	logger   *logging.Logger

	// Cleanup
	closers []func()
}

// loadConfig reads path, or hackmate.toml when path is empty, and applies the
// backend override.
func loadConfig(path, backend string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if backend != "" {
		cfg.Storage.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore creates a runtime with only the checkpoint store, enough for
// inspection commands.
func openStore(g *globals) (*runtime, error) {
	cfg, err := loadConfig(g.cli.Config, g.cli.Store)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logging.New().WithComponent("cli")}
	rt.store, err = checkpoint.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	rt.addCloser(func() { rt.store.Close() })
	return rt, nil
}

// openEngine creates a runtime whose engine can manage stored runs but has no
// workers, enough for commands that never execute a node.
func openEngine(g *globals) (*runtime, error) {
	rt, err := openStore(g)
	if err != nil {
		return nil, err
	}
	rt.engine, err = pipeline.New(pipeline.Config{Store: rt.store})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return rt, nil
}

// newRuntime creates a runtime able to execute runs.
func newRuntime(g *globals, onStep func(pipeline.StepResult)) (*runtime, error) {
	rt, err := openStore(g)
	if err != nil {
		return nil, err
	}
	rt.provider = g.provider
	if err := rt.setup(onStep); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// setup initializes all runtime components. Returns error on failure.
func (rt *runtime) setup(onStep func(pipeline.StepResult)) error {
	if rt.provider == nil {
		if err := rt.createProvider(); err != nil {
			return err
		}
	}
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	set, err := skills.Load(config.ExpandHome(rt.cfg.Skills.Dir))
	if err != nil {
		return fmt.Errorf("loading stage definitions: %w", err)
	}
	publisher, err := rt.setupEvents()
	if err != nil {
		return err
	}

	registry := rt.createRegistry()
	if missing := worker.UnknownTools(set, registry); len(missing) > 0 {
		rt.logger.Warn("stage definitions name unregistered tools", map[string]interface{}{
			"missing":   missing,
			"available": registry.Names(),
		})
	}

	rt.engine, err = pipeline.New(pipeline.Config{
		Store:   rt.store,
		Router:  rt.createRouter(),
		Workers: worker.Build(rt.provider, set, registry, rt.guardConfig()),
		Events:  publisher,
		OnStep:  onStep,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	return nil
}

// createProvider creates the LLM provider.
func (rt *runtime) createProvider() error {
	providerName := rt.cfg.LLM.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if providerName == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured (set [llm] model in %s)", config.DefaultFile)
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:  providerName,
		Model:     rt.cfg.LLM.Model,
		APIKey:    apiKey(rt.cfg, providerName),
		MaxTokens: rt.cfg.LLM.MaxTokens,
		BaseURL:   rt.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// apiKey prefers the configured environment variable, then stored credentials.
func apiKey(cfg *config.Config, provider string) string {
	if key := cfg.GetAPIKey(); key != "" {
		return key
	}
	if globalCreds != nil {
		return globalCreds.GetAPIKey(provider)
	}
	return ""
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupEvents logs every event and also publishes to NATS when configured.
func (rt *runtime) setupEvents() (events.Publisher, error) {
	pubs := events.Multi{events.NewLogPublisher()}
	if url := rt.cfg.Events.NATSURL; url != "" {
		nats, err := events.DialNATS(url, rt.cfg.Events.Subject)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		pubs = append(pubs, nats)
		rt.logger.Info("publishing events", map[string]interface{}{
			"url":     url,
			"subject": rt.cfg.Events.Subject,
		})
	}
	rt.addCloser(func() { pubs.Close() })
	return pubs, nil
}

// createRouter picks the advisor named by [router] mode.
func (rt *runtime) createRouter() *supervision.Router {
	var advisor supervision.Advisor = supervision.RuleAdvisor{}
	if rt.cfg.Router.Mode == config.RouterLLM {
		advisor = supervision.NewLLMAdvisor(rt.provider)
	}
	return supervision.New(supervision.Config{
		Advisor:  advisor,
		MaxSteps: rt.cfg.Router.MaxSteps,
	})
}

// createRegistry registers the repository and deployment tools.
func (rt *runtime) createRegistry() *tools.Registry {
	t := rt.cfg.Tools
	repo := tools.NewRepo(config.ExpandHome(t.RepoPath), t.AuthorName, t.AuthorEmail)
	return tools.NewRegistry(
		tools.CommitFilesTool{Repo: repo},
		tools.CreateBranchTool{Repo: repo},
		tools.NewDeployHookTool(t.DeployHookEnv, t.DeployTimeoutDuration()),
	)
}

func (rt *runtime) guardConfig() worker.GuardConfig {
	g := rt.cfg.Guard
	return worker.GuardConfig{
		Timeout:          g.TimeoutDuration(),
		FailureThreshold: g.FailureThreshold,
		OpenTimeout:      g.OpenTimeoutDuration(),
		MaxConcurrent:    g.MaxConcurrent,
	}
}

func (rt *runtime) addCloser(f func()) {
	rt.closers = append(rt.closers, f)
}

// close releases resources in reverse order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && isTTY(f)
}
