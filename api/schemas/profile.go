package schemas

import "time"

// -- Fingerprint Models --
// These types describe the identity the host presents on the wire.

// Platform identifies the operating system family a profile impersonates.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

// Platforms lists every platform in a stable order.
var Platforms = []Platform{PlatformWindows, PlatformLinux, PlatformMacOS}

// sanctionedTTL pairs each platform with the default IP TTL its real network stack emits.
var sanctionedTTL = map[Platform]int{
	PlatformWindows: 128,
	PlatformLinux:   64,
	PlatformMacOS:   65,
}

// SanctionedTTL returns the TTL a platform must be paired with.
func SanctionedTTL(p Platform) (int, bool) {
	ttl, ok := sanctionedTTL[p]
	return ttl, ok
}

// IsSanctioned reports whether the platform/TTL combination is one a real host would emit.
func IsSanctioned(p Platform, ttl int) bool {
	want, ok := sanctionedTTL[p]
	return ok && want == ttl
}

// Browser identifies the browser family a user agent belongs to. The transport
// uses it to pick a matching TLS ClientHello.
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
)

// FingerprintProfile is an immutable identity derived from chaos draws.
// Copies are handed out freely; nothing mutates a profile after creation.
type FingerprintProfile struct {
	ProfileID     string    `json:"profile_id"`
	Platform      Platform  `json:"platform"`
	TCPTTL        int       `json:"tcp_ttl"`
	TCPWindowSize int       `json:"tcp_window_size"`
	UserAgent     string    `json:"user_agent"`
	Browser       Browser   `json:"browser"`
	Language      string    `json:"language"`
	TimezoneName  string    `json:"timezone_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// Age returns how long the profile has been in use at the given instant.
func (p FingerprintProfile) Age(now time.Time) time.Duration {
	if p.CreatedAt.IsZero() || now.Before(p.CreatedAt) {
		return 0
	}
	return now.Sub(p.CreatedAt)
}
