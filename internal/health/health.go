// Package health runs the agent's liveness checks for external supervisors.
package health

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/profile"
	"github.com/xkilldash9x/spicy-cat/internal/status"
)

// MaxFailures is the largest number of failed checks that still counts as healthy.
const MaxFailures = 2

// Check names, in report order.
const (
	CheckProcess     = "process"
	CheckTTL         = "ttl_enforcement"
	CheckLeakPorts   = "leak_port_block"
	CheckStatusFresh = "status_fresh"
	CheckCoreModules = "core_modules"
)

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report collects every check result.
type Report struct {
	Results []Result `json:"results"`
	Failed  int      `json:"failed"`
}

// Healthy applies the exit policy: at most MaxFailures failed checks.
func (r Report) Healthy() bool { return r.Failed <= MaxFailures }

// ExitCode maps the report onto a process exit status.
func (r Report) ExitCode() int {
	if r.Healthy() {
		return 0
	}
	return 1
}

// Config points the checker at the agent's artifacts.
type Config struct {
	PIDFile     string
	StatusPath  string
	MaxAge      time.Duration
	WantRunning bool
	Timeout     time.Duration
}

// Checker runs the health checks.
type Checker struct {
	cfg    Config
	runner enforce.Runner
	logger *zap.Logger
	now    func() time.Time
	// pidExists is swapped in tests.
	pidExists func(ctx context.Context, pid int32) (bool, error)
}

// NewChecker builds a Checker. runner executes iptables queries.
func NewChecker(cfg Config, runner enforce.Runner, logger *zap.Logger) *Checker {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = status.DefaultMaxAge
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Checker{
		cfg:       cfg,
		runner:    runner,
		logger:    logger.Named("health"),
		now:       time.Now,
		pidExists: process.PidExistsWithContext,
	}
}

// Run executes all checks concurrently and returns them in a fixed order.
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{CheckProcess, c.checkProcess},
		{CheckTTL, c.checkTTL},
		{CheckLeakPorts, c.checkLeakPorts},
		{CheckStatusFresh, c.checkStatus},
		{CheckCoreModules, c.checkCore},
	}

	results := make([]Result, len(checks))
	// Checks report through results, never through the group, so one failure
	// does not cancel the others.
	g, gctx := errgroup.WithContext(ctx)
	for i, chk := range checks {
		i, chk := i, chk
		g.Go(func() error {
			res := Result{Name: chk.name, OK: true}
			if err := chk.fn(gctx); err != nil {
				res.OK = false
				res.Detail = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	for _, r := range results {
		if !r.OK {
			report.Failed++
			c.logger.Warn("Health check failed", zap.String("check", r.Name), zap.String("detail", r.Detail))
		}
	}
	return report
}

func (c *Checker) checkProcess(ctx context.Context) error {
	if c.cfg.PIDFile == "" {
		return fmt.Errorf("no pid file configured")
	}
	data, err := os.ReadFile(c.cfg.PIDFile)
	if err != nil {
		return fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		return fmt.Errorf("pid file %s is malformed", c.cfg.PIDFile)
	}
	alive, err := c.pidExists(ctx, int32(pid))
	if err != nil {
		return fmt.Errorf("probe pid %d: %w", pid, err)
	}
	if !alive {
		return fmt.Errorf("pid %d is not running", pid)
	}
	return nil
}

func (c *Checker) checkTTL(ctx context.Context) error {
	out, err := c.runner.Run(ctx, "iptables", "-t", "mangle", "-S")
	if err != nil {
		return fmt.Errorf("list mangle rules: %w", err)
	}
	if !bytes.Contains(out, []byte("--ttl-set")) {
		return fmt.Errorf("no TTL rewrite rule in the mangle table")
	}
	return nil
}

func (c *Checker) checkLeakPorts(ctx context.Context) error {
	out, err := c.runner.Run(ctx, "iptables", "-S", "OUTPUT")
	if err != nil {
		return fmt.Errorf("list output rules: %w", err)
	}
	if !bytes.Contains(out, []byte("--dport 3478")) {
		return fmt.Errorf("STUN port 3478 is not blocked")
	}
	return nil
}

func (c *Checker) checkStatus(_ context.Context) error {
	st, err := status.Read(c.cfg.StatusPath)
	if err != nil {
		return err
	}
	if reason := status.Stale(st, c.now(), c.cfg.MaxAge, c.cfg.WantRunning); reason != "" {
		return fmt.Errorf("%s", reason)
	}
	return nil
}

// checkCore proves the engine and default tables still produce a sanctioned profile.
func (c *Checker) checkCore(_ context.Context) error {
	gen, err := profile.NewGenerator(profile.DefaultTables())
	if err != nil {
		return fmt.Errorf("load profile tables: %w", err)
	}
	p, err := gen.Generate(chaos.New(chaos.SeedFromString("healthcheck")))
	if err != nil {
		return fmt.Errorf("generate profile: %w", err)
	}
	if !schemas.IsSanctioned(p.Platform, p.TCPTTL) {
		return fmt.Errorf("generated unsanctioned pair %s/%d", p.Platform, p.TCPTTL)
	}
	return nil
}
