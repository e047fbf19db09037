package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/agent"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/network"
	"github.com/xkilldash9x/spicy-cat/internal/profile"
	"github.com/xkilldash9x/spicy-cat/internal/status"
	"github.com/xkilldash9x/spicy-cat/internal/store"
	"github.com/xkilldash9x/spicy-cat/internal/telemetry"
)

// Components holds everything a running agent needs and owns their shutdown order.
type Components struct {
	Agent      *agent.Agent
	Dispatcher *enforce.Dispatcher
	Status     *status.Writer
	Journal    *store.Store
	DBPool     *pgxpool.Pool
	Seed       uint64
}

// Shutdown stops the agent, drains enforcement and closes the database pool.
func (c *Components) Shutdown(ctx context.Context, logger *zap.Logger) {
	logger.Debug("Beginning components shutdown sequence.")

	// 1. The agent is the producer of enforcement and journal work.
	if c.Agent != nil {
		if err := c.Agent.Stop(); err != nil {
			logger.Warn("Agent stop failed", zap.Error(err))
		}
	}

	// 2. Let in-flight enforcement finish, bounded by ctx.
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Close(ctx); err != nil {
			logger.Warn("Enforcement workers did not drain in time", zap.Error(err))
		}
	}

	// 3. Database last; journal writes were awaited by Agent.Stop.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}
	logger.Info("All components shut down.")
}

// ComponentFactory builds the runtime components from configuration.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config) (*Components, error)
}

type concreteFactory struct {
	logger *zap.Logger
}

// NewComponentFactory returns the production factory.
func NewComponentFactory(logger *zap.Logger) ComponentFactory {
	return &concreteFactory{logger: logger}
}

// Create wires every component. On failure, whatever was already built is torn down.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config) (c *Components, err error) {
	logger := f.logger
	c = &Components{}
	defer func() {
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c.Shutdown(shutdownCtx, logger)
			c = nil
		}
	}()

	c.Seed, err = resolveSeed(cfg.Agent, logger)
	if err != nil {
		return c, err
	}

	tables := profile.DefaultTables()
	if len(cfg.Profile.PlatformWeights) > 0 {
		if tables, err = tables.WithPlatformWeights(cfg.Profile.PlatformWeights); err != nil {
			return c, err
		}
	}

	if c.Status, err = status.NewWriter(cfg.Status.Path, logger); err != nil {
		return c, err
	}

	deps := agent.Deps{Sink: c.Status}

	if cfg.Enforcement.Enabled {
		var runner enforce.Runner = enforce.ExecRunner{}
		if cfg.Enforcement.DryRun {
			runner = enforce.DryRunRunner{Logger: logger.Named("dry_run")}
		}
		c.Dispatcher = enforce.NewDispatcher(enforce.NewCommandAdapter(runner, logger), enforce.DispatcherConfig{
			Workers:      cfg.Enforcement.Workers,
			QueueSize:    cfg.Enforcement.QueueSize,
			ApplyTimeout: cfg.Enforcement.ApplyTimeout,
		}, logger)
		// Workers outlive the command context; Close bounds the final drain.
		c.Dispatcher.Start(context.WithoutCancel(ctx))
		deps.Enforcer = c.Dispatcher
	}

	if cfg.Telemetry.ChaosEnabled {
		clientCfg := network.NewDefaultClientConfig()
		clientCfg.IgnoreTLSErrors = cfg.Telemetry.IgnoreTLSErrors
		clientCfg.DisableHTTP2 = cfg.Telemetry.DisableHTTP2
		if cfg.Telemetry.HandshakeTimeout > 0 {
			clientCfg.TLSHandshakeTimeout = cfg.Telemetry.HandshakeTimeout
		}
		clientCfg.Logger = logger
		deps.Transport = network.NewDecoyTransport(clientCfg, net.DefaultResolver, logger)
	}

	if cfg.Postgres.URL != "" {
		if c.DBPool, err = pgxpool.New(ctx, cfg.Postgres.URL); err != nil {
			return c, fmt.Errorf("failed to connect to database: %w", err)
		}
		if c.Journal, err = store.New(ctx, c.DBPool, logger); err != nil {
			return c, fmt.Errorf("failed to initialize journal: %w", err)
		}
		if err = c.Journal.EnsureSchema(ctx); err != nil {
			return c, err
		}
		deps.Journal = c.Journal
	}

	c.Agent, err = agent.New(agentOptions(cfg, c.Seed, tables), deps, logger)
	if err != nil {
		return c, err
	}
	return c, nil
}

// agentOptions maps configuration onto agent options.
func agentOptions(cfg *config.Config, seed uint64, tables profile.Tables) agent.Options {
	return agent.Options{
		Seed:             seed,
		Tables:           tables,
		TelemetryEnabled: cfg.Telemetry.ChaosEnabled,
		Planner: telemetry.PlannerConfig{
			Interval:       cfg.Telemetry.Interval(),
			JitterFraction: cfg.Telemetry.JitterFraction,
			DNSChaff:       cfg.Telemetry.DNSChaffEnabled,
			PhantomSwarm:   cfg.Telemetry.PhantomSwarm,
			MinPadding:     cfg.Telemetry.MinPadding,
			MaxPadding:     cfg.Telemetry.MaxPadding,
		},
		EmitTimeout:         cfg.Telemetry.EmitTimeout,
		StopTimeout:         cfg.Agent.StopTimeout,
		RotationMode:        agent.RotationMode(cfg.Rotation.Mode),
		RotationInterval:    cfg.Rotation.Interval,
		AutoRotateThreshold: cfg.Rotation.AutoRotateThreshold,
		RotateEvery:         cfg.Rotation.ManualMinGap,
		RotateBurst:         cfg.Rotation.ManualBurst,
		Threat: agent.ThreatConfig{
			Baseline:  cfg.Agent.ThreatBaseline,
			Staleness: cfg.Agent.ThreatStaleness,
			Ramp:      cfg.Agent.ThreatRamp,
		},
		BlockLeakPorts: cfg.Enforcement.BlockLeakPorts,
		JournalTimeout: cfg.Postgres.JournalTimeout,
	}
}

// resolveSeed picks the engine seed: explicit seed, then seed phrase, then the
// saved seed file, then a fresh random seed (saved when a seed file is set).
func resolveSeed(cfg config.AgentConfig, logger *zap.Logger) (uint64, error) {
	switch {
	case cfg.Seed != 0:
		return cfg.Seed, nil
	case cfg.SeedPhrase != "":
		return chaos.SeedFromString(cfg.SeedPhrase), nil
	}

	if cfg.SeedFile != "" {
		seed, ok, err := store.LoadSeed(cfg.SeedFile)
		if err != nil {
			return 0, err
		}
		if ok {
			logger.Info("Restored saved seed", zap.String("seed_file", cfg.SeedFile))
			return seed, nil
		}
	}

	seed := chaos.RandomSeed()
	if cfg.SeedFile != "" {
		if err := store.SaveSeed(cfg.SeedFile, seed); err != nil {
			return 0, &schemas.ConfigError{Field: "agent.seed_file", Reason: err.Error()}
		}
	}
	return seed, nil
}
