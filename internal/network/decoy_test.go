package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

type fakeResolver struct {
	mu    sync.Mutex
	hosts []string
	err   error
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, host)
	if r.err != nil {
		return nil, r.err
	}
	return []string{"192.0.2.10"}, nil
}

// seen captures what a test server observed.
type seen struct {
	mu        sync.Mutex
	method    string
	userAgent string
	protoMaj  int
}

func newProbeServer(t *testing.T, h2 bool) (*httptest.Server, *seen) {
	t.Helper()
	s := &seen{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.method, s.userAgent, s.protoMaj = r.Method, r.UserAgent(), r.ProtoMajor
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.EnableHTTP2 = h2
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv, s
}

func newTestTransport(t *testing.T, resolver Resolver) *DecoyTransport {
	t.Helper()
	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	return NewDecoyTransport(cfg, resolver, zaptest.NewLogger(t))
}

func TestHeadProbe(t *testing.T) {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	for _, tc := range []struct {
		name  string
		h2    bool
		proto int
	}{
		{"over HTTP/1.1", false, 1},
		{"over HTTP/2", true, 2},
	} {
		t.Run("should send a parroted HEAD "+tc.name, func(t *testing.T) {
			srv, s := newProbeServer(t, tc.h2)
			transport := newTestTransport(t, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := transport.Emit(ctx, schemas.TelemetryEvent{
				Method:    schemas.MethodHeadProbe,
				Target:    strings.TrimPrefix(srv.URL, "https://"),
				UserAgent: ua,
				Browser:   schemas.BrowserChrome,
			})
			require.NoError(t, err)

			s.mu.Lock()
			defer s.mu.Unlock()
			assert.Equal(t, http.MethodHead, s.method)
			assert.Equal(t, ua, s.userAgent)
			assert.Equal(t, tc.proto, s.protoMaj)
		})
	}

	t.Run("should wrap connection failures as transport errors", func(t *testing.T) {
		transport := newTestTransport(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := transport.Emit(ctx, schemas.TelemetryEvent{Method: schemas.MethodHeadProbe, Target: "127.0.0.1:1"})
		var tErr *schemas.TransportError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, schemas.MethodHeadProbe, tErr.Method)
	})
}

func TestDNSLookup(t *testing.T) {
	t.Run("should resolve the chaff target", func(t *testing.T) {
		resolver := &fakeResolver{}
		transport := newTestTransport(t, resolver)

		require.NoError(t, transport.Emit(context.Background(), schemas.TelemetryEvent{Method: schemas.MethodDNSLookup, Target: "cdn.reddit.com"}))
		assert.Equal(t, []string{"cdn.reddit.com"}, resolver.hosts)
	})

	t.Run("should report resolver failures", func(t *testing.T) {
		nxdomain := errors.New("no such host")
		transport := newTestTransport(t, &fakeResolver{err: nxdomain})

		err := transport.Emit(context.Background(), schemas.TelemetryEvent{Method: schemas.MethodDNSLookup, Target: "api.example.com"})
		assert.ErrorIs(t, err, nxdomain)
	})

	t.Run("should reject an empty target", func(t *testing.T) {
		transport := newTestTransport(t, &fakeResolver{})
		assert.Error(t, transport.Emit(context.Background(), schemas.TelemetryEvent{Method: schemas.MethodDNSLookup}))
	})
}

func TestPaddingDelay(t *testing.T) {
	transport := newTestTransport(t, nil)

	start := time.Now()
	require.NoError(t, transport.Emit(context.Background(), schemas.TelemetryEvent{Method: schemas.MethodPaddingDelay, Padding: 30 * time.Millisecond}))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transport.Emit(ctx, schemas.TelemetryEvent{Method: schemas.MethodPaddingDelay, Padding: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnknownMethod(t *testing.T) {
	transport := newTestTransport(t, nil)
	var tErr *schemas.TransportError
	require.ErrorAs(t, transport.Emit(context.Background(), schemas.TelemetryEvent{Method: "carrier_pigeon"}), &tErr)
}

func TestHelloFor(t *testing.T) {
	assert.Equal(t, utls.HelloFirefox_120, HelloFor(schemas.BrowserFirefox))
	assert.Equal(t, utls.HelloSafari_16_0, HelloFor(schemas.BrowserSafari))
	assert.Equal(t, utls.HelloChrome_120, HelloFor(schemas.BrowserEdge))
	assert.Equal(t, utls.HelloChrome_120, HelloFor(schemas.BrowserChrome))
}

func TestNonHTTPSRejected(t *testing.T) {
	client := NewClient(nil, schemas.BrowserChrome)
	req, err := http.NewRequest(http.MethodHead, "http://example.com/", nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.Error(t, err)
}
