// Package enforce applies fingerprint profiles to the host network stack.
package enforce

import "github.com/xkilldash9x/spicy-cat/api/schemas"

// legacyWindowSize is the SYN window of stacks that ship with window scaling
// off. Any larger profile window implies a modern stack with scaling on.
const legacyWindowSize = 8192

// RequestFor derives the OS-level settings that make the host match p.
func RequestFor(p schemas.FingerprintProfile, blockLeakPorts bool) schemas.EnforcementRequest {
	return schemas.EnforcementRequest{
		DefaultTTL:       p.TCPTTL,
		TCPWindowScaling: p.TCPWindowSize > legacyWindowSize,
		PlatformHint:     p.Platform,
		WindowSize:       p.TCPWindowSize,
		Timezone:         p.TimezoneName,
		BlockLeakPorts:   blockLeakPorts,
		ProfileID:        p.ProfileID,
	}
}
