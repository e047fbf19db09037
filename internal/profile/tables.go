package profile

import (
	"fmt"
	"math"
	"sort"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// Weighted pairs a value with its relative draw weight.
type Weighted[T any] struct {
	Value  T
	Weight float64
}

// UserAgent is a user agent string tagged with its browser family.
type UserAgent struct {
	String  string
	Browser schemas.Browser
}

// PlatformTable holds the draws that must stay consistent with a platform.
type PlatformTable struct {
	TTL        []Weighted[int]
	WindowSize []Weighted[int]
	UserAgents []Weighted[UserAgent]
}

// Tables is the complete set of frozen weighted tables a Generator draws from.
type Tables struct {
	Platforms   []Weighted[schemas.Platform]
	PerPlatform map[schemas.Platform]PlatformTable
	Languages   []Weighted[string]
	Timezones   []Weighted[string]
}

// -- Default Tables --
// Changing any weight or entry changes the profile produced for a given seed.

var (
	chromeVersions  = []string{"120.0.0.0", "121.0.0.0", "122.0.0.0", "123.0.0.0", "124.0.0.0", "125.0.0.0", "126.0.0.0"}
	firefoxVersions = []string{"121.0", "122.0", "123.0", "124.0", "125.0", "126.0", "127.0"}
	safariVersions  = []string{"17.0", "17.1", "17.2", "17.3"}
	edgeVersions    = []string{"120.0.0.0", "121.0.0.0", "122.0.0.0", "123.0.0.0"}
)

const (
	chromeWin   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"
	chromeMac   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"
	chromeLinux = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"
	firefoxWin  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%[1]s) Gecko/20100101 Firefox/%[1]s"
	firefoxMac  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:%[1]s) Gecko/20100101 Firefox/%[1]s"
	firefoxLin  = "Mozilla/5.0 (X11; Linux x86_64; rv:%[1]s) Gecko/20100101 Firefox/%[1]s"
	safariMac   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15"
	edgeWin     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%[1]s Safari/537.36 Edg/%[1]s"
)

// family spreads a total weight evenly over every version of a user agent template.
func family(template string, browser schemas.Browser, versions []string, total float64) []Weighted[UserAgent] {
	out := make([]Weighted[UserAgent], 0, len(versions))
	for _, v := range versions {
		out = append(out, Weighted[UserAgent]{
			Value:  UserAgent{String: fmt.Sprintf(template, v), Browser: browser},
			Weight: total / float64(len(versions)),
		})
	}
	return out
}

func concat[T any](parts ...[]T) []T {
	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// DefaultTables returns the built-in tables.
func DefaultTables() Tables {
	return Tables{
		Platforms: []Weighted[schemas.Platform]{
			{schemas.PlatformWindows, 55},
			{schemas.PlatformLinux, 30},
			{schemas.PlatformMacOS, 15},
		},
		PerPlatform: map[schemas.Platform]PlatformTable{
			schemas.PlatformWindows: {
				TTL:        []Weighted[int]{{128, 1}},
				WindowSize: []Weighted[int]{{64240, 0.6}, {65535, 0.3}, {8192, 0.1}},
				UserAgents: concat(
					family(chromeWin, schemas.BrowserChrome, chromeVersions, 0.65),
					family(edgeWin, schemas.BrowserEdge, edgeVersions, 0.2),
					family(firefoxWin, schemas.BrowserFirefox, firefoxVersions, 0.15),
				),
			},
			schemas.PlatformLinux: {
				TTL:        []Weighted[int]{{64, 1}},
				WindowSize: []Weighted[int]{{29200, 0.5}, {64240, 0.3}, {65535, 0.2}},
				UserAgents: concat(
					family(chromeLinux, schemas.BrowserChrome, chromeVersions, 0.55),
					family(firefoxLin, schemas.BrowserFirefox, firefoxVersions, 0.45),
				),
			},
			schemas.PlatformMacOS: {
				TTL:        []Weighted[int]{{65, 1}},
				WindowSize: []Weighted[int]{{65535, 1}},
				UserAgents: concat(
					family(safariMac, schemas.BrowserSafari, safariVersions, 0.5),
					family(chromeMac, schemas.BrowserChrome, chromeVersions, 0.4),
					family(firefoxMac, schemas.BrowserFirefox, firefoxVersions, 0.1),
				),
			},
		},
		Languages: []Weighted[string]{
			{"en-US", 0.6},
			{"en-GB", 0.15},
			{"de-DE", 0.1},
			{"fr-FR", 0.1},
			{"es-ES", 0.05},
		},
		Timezones: []Weighted[string]{
			{"America/New_York", 0.2},
			{"America/Chicago", 0.12},
			{"America/Denver", 0.06},
			{"America/Los_Angeles", 0.15},
			{"America/Toronto", 0.05},
			{"America/Sao_Paulo", 0.04},
			{"Europe/London", 0.12},
			{"Europe/Berlin", 0.08},
			{"Europe/Paris", 0.07},
			{"Asia/Tokyo", 0.06},
			{"Australia/Sydney", 0.05},
		},
	}
}

// WithPlatformWeights returns a copy of the tables with the platform weights replaced.
// Keys are platform names; platforms missing from the map keep their weight.
func (t Tables) WithPlatformWeights(weights map[string]float64) (Tables, error) {
	if len(weights) == 0 {
		return t, nil
	}

	byName := make(map[schemas.Platform]float64, len(weights))
	for name, w := range weights {
		p := schemas.Platform(name)
		if _, ok := schemas.SanctionedTTL(p); !ok {
			return t, &schemas.ConfigError{Field: "profile.platform_weights", Reason: fmt.Sprintf("unknown platform %q", name)}
		}
		byName[p] = w
	}

	out := t
	out.Platforms = make([]Weighted[schemas.Platform], len(t.Platforms))
	copy(out.Platforms, t.Platforms)
	for i, entry := range out.Platforms {
		if w, ok := byName[entry.Value]; ok {
			out.Platforms[i].Weight = w
			delete(byName, entry.Value)
		}
	}

	// Platforms enabled by the override but absent from the base table.
	extra := make([]schemas.Platform, 0, len(byName))
	for p := range byName {
		extra = append(extra, p)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, p := range extra {
		out.Platforms = append(out.Platforms, Weighted[schemas.Platform]{Value: p, Weight: byName[p]})
	}
	return out, nil
}

// Validate checks every table for the problems that would make a draw meaningless.
func (t Tables) Validate() error {
	if err := checkWeights("platforms", t.Platforms); err != nil {
		return err
	}
	if err := checkWeights("languages", t.Languages); err != nil {
		return err
	}
	if err := checkWeights("timezones", t.Timezones); err != nil {
		return err
	}

	for _, entry := range t.Platforms {
		if _, ok := schemas.SanctionedTTL(entry.Value); !ok {
			return &schemas.ConfigError{Field: "platforms", Reason: fmt.Sprintf("unknown platform %q", entry.Value)}
		}
		if entry.Weight == 0 {
			continue
		}
		pt, ok := t.PerPlatform[entry.Value]
		if !ok {
			return &schemas.ConfigError{Field: "platforms", Reason: fmt.Sprintf("no table for platform %q", entry.Value)}
		}
		prefix := string(entry.Value)
		if err := checkWeights(prefix+".ttl", pt.TTL); err != nil {
			return err
		}
		if err := checkWeights(prefix+".window_size", pt.WindowSize); err != nil {
			return err
		}
		if err := checkWeights(prefix+".user_agents", pt.UserAgents); err != nil {
			return err
		}
		for _, ttl := range pt.TTL {
			if ttl.Weight > 0 && !schemas.IsSanctioned(entry.Value, ttl.Value) {
				return &schemas.ConfigError{
					Field:  prefix + ".ttl",
					Reason: fmt.Sprintf("ttl %d is not sanctioned for %s", ttl.Value, entry.Value),
				}
			}
		}
		for _, ws := range pt.WindowSize {
			if ws.Value <= 0 || ws.Value > 65535 {
				return &schemas.ConfigError{Field: prefix + ".window_size", Reason: fmt.Sprintf("window size %d out of range", ws.Value)}
			}
		}
	}
	return nil
}

func checkWeights[T any](field string, items []Weighted[T]) error {
	if len(items) == 0 {
		return &schemas.ConfigError{Field: field, Reason: "table is empty"}
	}
	total := 0.0
	for _, it := range items {
		if math.IsNaN(it.Weight) || math.IsInf(it.Weight, 0) || it.Weight < 0 {
			return &schemas.ConfigError{Field: field, Reason: fmt.Sprintf("invalid weight %v", it.Weight)}
		}
		total += it.Weight
	}
	if total <= 0 {
		return &schemas.ConfigError{Field: field, Reason: "weights sum to zero"}
	}
	return nil
}
