package agent

import (
	"strings"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// trackerDomains are hosts of analytics, advertising, fingerprinting and
// session-replay services. Matching is by substring so subdomains count.
var trackerDomains = []string{
	"google-analytics.com", "analytics.google.com", "stats.g.doubleclick.net",
	"googletagmanager.com", "connect.facebook.net", "pixel.facebook.com",
	"ad.doubleclick.net", "pagead2.googlesyndication.com", "ads.linkedin.com",
	"bat.bing.com", "cdn.mxpnl.com", "api.mixpanel.com",
	"fpcdn.io", "api.fpjs.io", "cdn.cookielaw.org", "geolocation.onetrust.com",
	"cdn.mouseflow.com", "cdn.logrocket.io", "cdn.fullstory.com", "rs.fullstory.com",
	"static.hotjar.com", "script.hotjar.com", "cdn.optimizely.com", "logx.optimizely.com",
	"cdn.amplitude.com", "api.amplitude.com",
}

// trackerPaths are URL fragments typical of beacons and collection endpoints.
var trackerPaths = []string{
	"/collect?", "/analytics/", "/pixel/", "/beacon/",
	"/track?", "/event?", "/log?", "/__utm.",
	"/pagead/", "/adview/", "/impression/",
	"/_vercel/insights/", "/api/telemetry", "/v1/collect", "/v2/track",
	"/npm/fingerprintjs", "facebook.com/tr",
}

type scriptPattern struct {
	needle     string
	kind       schemas.SignalKind
	confidence float64
}

// scriptPatterns are API calls that fingerprinting scripts lean on.
var scriptPatterns = []scriptPattern{
	{"canvas.todataurl", schemas.SignalCanvasFingerprint, 0.8},
	{"getimagedata", schemas.SignalCanvasFingerprint, 0.7},
	{"webgl.getparameter", schemas.SignalWebGLEnum, 0.8},
	{"webgl2renderingcontext", schemas.SignalWebGLEnum, 0.6},
	{"audiocontext", schemas.SignalAudioFingerprint, 0.7},
	{"createoscillator", schemas.SignalAudioFingerprint, 0.8},
	{"navigator.plugins", schemas.SignalPluginEnum, 0.7},
	{"navigator.mimetypes", schemas.SignalPluginEnum, 0.6},
	{"measuretext", schemas.SignalFontProbe, 0.5},
	{"rtcpeerconnection", schemas.SignalWebRTCLeak, 0.9},
	{"createoffer", schemas.SignalWebRTCLeak, 0.8},
}

// MatchDomain reports whether domain belongs to a known tracker.
func MatchDomain(domain string) (schemas.ThreatSignal, bool) {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if d == "" {
		return schemas.ThreatSignal{}, false
	}
	for _, t := range trackerDomains {
		if strings.Contains(d, t) {
			return schemas.ThreatSignal{Kind: schemas.SignalTrackerDomain, Source: domain, Confidence: 0.9}, true
		}
	}
	return schemas.ThreatSignal{}, false
}

// MatchURL reports whether rawURL looks like a tracking beacon.
func MatchURL(rawURL string) (schemas.ThreatSignal, bool) {
	u := strings.ToLower(rawURL)
	for _, p := range trackerPaths {
		if strings.Contains(u, p) {
			return schemas.ThreatSignal{Kind: schemas.SignalTelemetryBeacon, Source: rawURL, Confidence: 0.7}, true
		}
	}
	for _, t := range trackerDomains {
		if strings.Contains(u, t) {
			return schemas.ThreatSignal{Kind: schemas.SignalTrackerDomain, Source: rawURL, Confidence: 0.8}, true
		}
	}
	return schemas.ThreatSignal{}, false
}

// MatchScript returns one signal per fingerprinting pattern found in content.
func MatchScript(source, content string) []schemas.ThreatSignal {
	lower := strings.ToLower(content)
	var out []schemas.ThreatSignal
	for _, p := range scriptPatterns {
		if strings.Contains(lower, p.needle) {
			out = append(out, schemas.ThreatSignal{Kind: p.kind, Source: source, Confidence: p.confidence})
		}
	}
	return out
}
