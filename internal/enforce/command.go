package enforce

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// Runner executes a privileged command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DryRunRunner logs commands instead of running them.
type DryRunRunner struct {
	Logger *zap.Logger
}

// Run implements Runner.
func (r DryRunRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	if r.Logger != nil {
		r.Logger.Info("Dry run", zap.String("command", name+" "+strings.Join(args, " ")))
	}
	return nil, nil
}

const (
	// Chain holding the TTL and MSS rewrites; flushed on every apply.
	mangleChain = "SPICYCAT"
	// Windows, Linux and macOS all announce 1460 on Ethernet, so the clamp is
	// platform independent. The profile's window size is carried by the
	// scaling and receive buffer sysctls instead.
	ethernetMSS = 1460

	defaultZoneinfoDir = "/usr/share/zoneinfo"
	defaultLocaltime   = "/etc/localtime"
)

// leakRules drop STUN/TURN traffic that can expose the real address behind a VPN.
var leakRules = [][]string{
	{"-p", "udp", "--dport", "3478", "-j", "DROP"},
	{"-p", "tcp", "--dport", "3478", "-j", "DROP"},
	{"-p", "udp", "--dport", "5349", "-j", "DROP"},
}

var timezonePattern = regexp.MustCompile(`^[A-Za-z_]+(/[A-Za-z0-9_+\-]+)*$`)

type step struct {
	name string
	fn   func(context.Context, schemas.EnforcementRequest) error
}

// CommandAdapter enforces profiles with sysctl and iptables.
type CommandAdapter struct {
	runner        Runner
	logger        *zap.Logger
	zoneinfoDir   string
	localtimePath string
	now           func() time.Time
}

// NewCommandAdapter returns an adapter that issues its commands through runner.
func NewCommandAdapter(runner Runner, logger *zap.Logger) *CommandAdapter {
	return &CommandAdapter{
		runner:        runner,
		logger:        logger.Named("enforce"),
		zoneinfoDir:   defaultZoneinfoDir,
		localtimePath: defaultLocaltime,
		now:           time.Now,
	}
}

// Apply runs every step in order. A failed step is recorded and the remaining
// steps still run.
func (a *CommandAdapter) Apply(ctx context.Context, req schemas.EnforcementRequest) schemas.EnforcementResult {
	result := schemas.EnforcementResult{ProfileID: req.ProfileID}

	steps := []step{
		{"sysctl_ttl", a.applyTTL},
		{"sysctl_window_scaling", a.applyWindowScaling},
		{"sysctl_rmem", a.applyReceiveBuffer},
		{"iptables_ttl", a.applyMangleChain},
	}
	if req.BlockLeakPorts {
		steps = append(steps, step{"iptables_leak_ports", a.applyLeakRules})
	}
	if req.Timezone != "" {
		steps = append(steps, step{"timezone", a.applyTimezone})
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, schemas.EnforcementStep{Name: st.name, Err: err})
			continue
		}
		if err := st.fn(ctx, req); err != nil {
			a.logger.Debug("Enforcement step failed", zap.String("step", st.name), zap.Error(err))
			result.Failed = append(result.Failed, schemas.EnforcementStep{Name: st.name, Err: err})
			continue
		}
		result.Applied = append(result.Applied, st.name)
	}

	result.Finished = a.now().UTC()
	return result
}

func (a *CommandAdapter) run(ctx context.Context, name string, args ...string) error {
	out, err := a.runner.Run(ctx, name, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

func (a *CommandAdapter) applyTTL(ctx context.Context, req schemas.EnforcementRequest) error {
	if req.DefaultTTL <= 0 || req.DefaultTTL > 255 {
		return fmt.Errorf("ttl %d out of range", req.DefaultTTL)
	}
	return a.run(ctx, "sysctl", "-w", "net.ipv4.ip_default_ttl="+strconv.Itoa(req.DefaultTTL))
}

func (a *CommandAdapter) applyWindowScaling(ctx context.Context, req schemas.EnforcementRequest) error {
	v := "0"
	if req.TCPWindowScaling {
		v = "1"
	}
	return a.run(ctx, "sysctl", "-w", "net.ipv4.tcp_window_scaling="+v)
}

// applyReceiveBuffer sizes the default receive buffer the way each stack does out of the box.
func (a *CommandAdapter) applyReceiveBuffer(ctx context.Context, req schemas.EnforcementRequest) error {
	rmem := 212992
	if req.PlatformHint == schemas.PlatformWindows {
		rmem = 65535
	}
	return a.run(ctx, "sysctl", "-w", "net.core.rmem_default="+strconv.Itoa(rmem))
}

// applyMangleChain rebuilds the dedicated mangle chain and makes sure POSTROUTING jumps to it.
func (a *CommandAdapter) applyMangleChain(ctx context.Context, req schemas.EnforcementRequest) error {
	// Creating an existing chain fails; the flush below is what must succeed.
	_ = a.run(ctx, "iptables", "-t", "mangle", "-N", mangleChain)

	if err := a.run(ctx, "iptables", "-t", "mangle", "-F", mangleChain); err != nil {
		return err
	}
	if err := a.run(ctx, "iptables", "-t", "mangle", "-A", mangleChain,
		"-j", "TTL", "--ttl-set", strconv.Itoa(req.DefaultTTL)); err != nil {
		return err
	}

	if err := a.run(ctx, "iptables", "-t", "mangle", "-A", mangleChain,
		"-p", "tcp", "--tcp-flags", "SYN,RST", "SYN", "-j", "TCPMSS", "--set-mss", strconv.Itoa(ethernetMSS)); err != nil {
		return err
	}

	return a.ensureRule(ctx, []string{"-t", "mangle"}, "POSTROUTING", "-j", mangleChain)
}

func (a *CommandAdapter) applyLeakRules(ctx context.Context, _ schemas.EnforcementRequest) error {
	for _, rule := range leakRules {
		if err := a.ensureRule(ctx, nil, "OUTPUT", rule...); err != nil {
			return err
		}
	}
	return nil
}

// ensureRule appends a rule only when iptables -C reports it missing.
func (a *CommandAdapter) ensureRule(ctx context.Context, table []string, chain string, rule ...string) error {
	check := append(append(append([]string{}, table...), "-C", chain), rule...)
	if _, err := a.runner.Run(ctx, "iptables", check...); err == nil {
		return nil
	}
	add := append(append(append([]string{}, table...), "-A", chain), rule...)
	return a.run(ctx, "iptables", add...)
}

func (a *CommandAdapter) applyTimezone(ctx context.Context, req schemas.EnforcementRequest) error {
	tz := req.Timezone
	if !timezonePattern.MatchString(tz) || strings.Contains(tz, "..") {
		return fmt.Errorf("refusing suspicious timezone name %q", tz)
	}
	return a.run(ctx, "ln", "-sf", a.zoneinfoDir+"/"+tz, a.localtimePath)
}
