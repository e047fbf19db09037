package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
	"github.com/xkilldash9x/spicy-cat/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the protection agent until interrupted",
		Long: `Starts the agent: generates a fingerprint profile, applies it to the network
stack, emits decoy traffic and keeps the status file fresh. Send SIGUSR1 to
rotate the profile; SIGINT or SIGTERM stops the agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			defer observability.Sync()
			return runAgent(cmd.Context(), config.Get(), NewComponentFactory(logger), logger)
		},
	}

	runCmd.Flags().Bool("dry-run", false, "log enforcement commands instead of running them")
	runCmd.Flags().Uint64("seed", 0, "fix the engine seed (0 picks one)")
	_ = viper.BindPFlag("enforcement.dry_run", runCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("agent.seed", runCmd.Flags().Lookup("seed"))
	return runCmd
}

// runAgent blocks until ctx is cancelled.
func runAgent(ctx context.Context, cfg *config.Config, factory ComponentFactory, logger *zap.Logger) error {
	if cfg.Agent.PIDFile != "" {
		if err := writePIDFile(cfg.Agent.PIDFile); err != nil {
			return err
		}
		defer func() { _ = os.Remove(cfg.Agent.PIDFile) }()
	}

	components, err := factory.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		components.Shutdown(shutdownCtx, logger)
	}()

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.ListenAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a := components.Agent
	if !cfg.Agent.Enabled {
		logger.Info("Agent disabled by configuration; publishing idle status only")
		publishIdle(ctx, components, cfg.Health.MaxAge/3, logger)
		return nil
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	logger.Info("spicy-cat running",
		zap.String("agent_id", a.ID()),
		zap.String("version", Version),
		zap.String("status_file", components.Status.Path()))

	rotate := make(chan os.Signal, 1)
	signal.Notify(rotate, syscall.SIGUSR1)
	defer signal.Stop(rotate)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown requested")
			return nil
		case <-rotate:
			rctx, cancel := context.WithTimeout(ctx, signalRotateWait(cfg))
			p, err := a.Rotate(rctx)
			cancel()
			switch {
			case errors.Is(err, schemas.ErrRotationThrottled):
				logger.Warn("Rotation request throttled")
			case err != nil:
				logger.Error("Rotation failed", zap.Error(err))
			default:
				logger.Info("Rotated on signal", zap.String("profile_id", p.ProfileID))
			}
		}
	}
}

// signalRotateWait covers a rotation queued behind an in-flight decoy, which
// may hold the scheduler for a full emit timeout.
func signalRotateWait(cfg *config.Config) time.Duration {
	emit := cfg.Telemetry.EmitTimeout
	if emit <= 0 {
		emit = telemetry.DefaultEmitTimeout
	}
	return 2*emit + 5*time.Second
}

// publishIdle keeps the status file of a disabled agent fresh until ctx ends.
func publishIdle(ctx context.Context, c *Components, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st := c.Agent.Status()
		// Version 0 bypasses the writer's staleness check; nothing else publishes here.
		st.Version = 0
		st.UpdatedAt = time.Now().UTC()
		if err := c.Status.Publish(st); err != nil {
			logger.Warn("Status publish failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))
	return srv
}
