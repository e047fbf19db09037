package enforce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// recordingRunner records every command and fails those matching a prefix.
type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   map[string]error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
	for prefix, err := range r.failOn {
		if strings.HasPrefix(cmd, prefix) {
			return []byte("operation not permitted"), err
		}
	}
	return nil, nil
}

func (r *recordingRunner) ran(cmd string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func windowsRequest() schemas.EnforcementRequest {
	return RequestFor(schemas.FingerprintProfile{
		ProfileID:     "abc123",
		Platform:      schemas.PlatformWindows,
		TCPTTL:        128,
		TCPWindowSize: 64240,
		TimezoneName:  "America/New_York",
	}, true)
}

func TestRequestFor(t *testing.T) {
	req := windowsRequest()
	assert.Equal(t, 128, req.DefaultTTL)
	assert.True(t, req.TCPWindowScaling)
	assert.Equal(t, schemas.PlatformWindows, req.PlatformHint)
	assert.Equal(t, "America/New_York", req.Timezone)
	assert.True(t, req.BlockLeakPorts)

	small := RequestFor(schemas.FingerprintProfile{Platform: schemas.PlatformWindows, TCPTTL: 128, TCPWindowSize: 8192}, false)
	assert.False(t, small.TCPWindowScaling, "an 8K window is advertised without scaling")
}

func TestCommandAdapterApply(t *testing.T) {
	t.Run("should issue sysctl and iptables commands for the profile", func(t *testing.T) {
		// -C fails so that every rule gets appended.
		runner := &recordingRunner{failOn: map[string]error{"iptables -C": errors.New("no rule"), "iptables -t mangle -C": errors.New("no rule")}}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))

		result := adapter.Apply(context.Background(), windowsRequest())

		require.True(t, result.OK(), "unexpected failures: %v", result.Err())
		assert.Equal(t, "abc123", result.ProfileID)
		assert.Equal(t, []string{"sysctl_ttl", "sysctl_window_scaling", "sysctl_rmem", "iptables_ttl", "iptables_leak_ports", "timezone"}, result.Applied)

		assert.True(t, runner.ran("sysctl -w net.ipv4.ip_default_ttl=128"))
		assert.True(t, runner.ran("sysctl -w net.ipv4.tcp_window_scaling=1"))
		assert.True(t, runner.ran("sysctl -w net.core.rmem_default=65535"))
		assert.True(t, runner.ran("iptables -t mangle -F SPICYCAT"))
		assert.True(t, runner.ran("iptables -t mangle -A SPICYCAT -j TTL --ttl-set 128"))
		assert.True(t, runner.ran("iptables -t mangle -A SPICYCAT -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --set-mss 1460"))
		assert.True(t, runner.ran("iptables -t mangle -A POSTROUTING -j SPICYCAT"))
		assert.True(t, runner.ran("iptables -A OUTPUT -p udp --dport 3478 -j DROP"))
		assert.True(t, runner.ran("iptables -A OUTPUT -p udp --dport 5349 -j DROP"))
		assert.True(t, runner.ran("ln -sf /usr/share/zoneinfo/America/New_York /etc/localtime"))
	})

	t.Run("should clamp MSS the same way for every window size", func(t *testing.T) {
		for _, window := range []int{1200, 8192, 29200, 65535} {
			runner := &recordingRunner{}
			req := windowsRequest()
			req.WindowSize = window
			NewCommandAdapter(runner, zaptest.NewLogger(t)).Apply(context.Background(), req)
			assert.True(t, runner.ran("iptables -t mangle -A SPICYCAT -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --set-mss 1460"), "window %d", window)
		}
	})

	t.Run("should not duplicate rules that already exist", func(t *testing.T) {
		runner := &recordingRunner{}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))

		result := adapter.Apply(context.Background(), windowsRequest())
		require.True(t, result.OK())

		assert.True(t, runner.ran("iptables -C OUTPUT -p udp --dport 3478 -j DROP"))
		assert.False(t, runner.ran("iptables -A OUTPUT -p udp --dport 3478 -j DROP"))
		assert.False(t, runner.ran("iptables -t mangle -A POSTROUTING -j SPICYCAT"))
	})

	t.Run("should keep going after a failed step", func(t *testing.T) {
		denied := errors.New("exit status 255")
		runner := &recordingRunner{failOn: map[string]error{"sysctl -w net.ipv4.ip_default_ttl": denied}}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))

		result := adapter.Apply(context.Background(), windowsRequest())

		require.False(t, result.OK())
		require.Len(t, result.Failed, 1)
		assert.Equal(t, "sysctl_ttl", result.Failed[0].Name)
		assert.ErrorIs(t, result.Err(), denied)
		assert.Contains(t, result.Failed[0].Err.Error(), "operation not permitted")
		assert.Contains(t, result.Applied, "iptables_ttl")
	})

	t.Run("should refuse a suspicious timezone without running anything", func(t *testing.T) {
		runner := &recordingRunner{}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))
		req := windowsRequest()
		req.Timezone = "../../etc/passwd"

		result := adapter.Apply(context.Background(), req)

		require.Len(t, result.Failed, 1)
		assert.Equal(t, "timezone", result.Failed[0].Name)
		for _, c := range runner.commands {
			assert.False(t, strings.HasPrefix(c, "ln "), "ran %q", c)
		}
	})

	t.Run("should skip the leak rules when not requested", func(t *testing.T) {
		runner := &recordingRunner{}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))
		req := windowsRequest()
		req.BlockLeakPorts = false

		result := adapter.Apply(context.Background(), req)
		assert.NotContains(t, result.Applied, "iptables_leak_ports")
	})

	t.Run("should record every step as failed once the context is done", func(t *testing.T) {
		runner := &recordingRunner{}
		adapter := NewCommandAdapter(runner, zaptest.NewLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := adapter.Apply(ctx, windowsRequest())
		assert.Empty(t, result.Applied)
		assert.Len(t, result.Failed, 6)
		assert.Empty(t, runner.commands)
	})
}

func TestDryRunRunner(t *testing.T) {
	out, err := DryRunRunner{Logger: zaptest.NewLogger(t)}.Run(context.Background(), "sysctl", "-w", "x=1")
	assert.NoError(t, err)
	assert.Nil(t, out)
}
