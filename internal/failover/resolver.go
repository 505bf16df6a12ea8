package failover

import (
	"strings"

	"github.com/micguard/micguard/internal/audio"
)

// MatchKind classifies how a device query resolved against a directory snapshot.
type MatchKind int

const (
	// NoMatch means the query matched no known device.
	NoMatch MatchKind = iota
	// UniqueMatch means the query matched exactly one device.
	UniqueMatch
	// Ambiguous means the query matched two or more devices.
	Ambiguous
)

// Resolution is the typed result of resolving one query.
type Resolution struct {
	Kind    MatchKind
	Device  audio.Device   // the match, for UniqueMatch
	Matches []audio.Device // all matches, for Ambiguous
}

// Resolve matches a single query against a fresh device snapshot. The query
// is first looked up in the alias map; the resulting string is matched as a
// case-insensitive substring of device display names.
func Resolve(query string, aliases map[string]string, devices []audio.Device) Resolution {
	needle := query
	if target, ok := aliases[query]; ok {
		needle = target
	}
	needle = strings.ToLower(strings.TrimSpace(needle))

	var matches []audio.Device
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			matches = append(matches, dev)
		}
	}

	switch len(matches) {
	case 0:
		return Resolution{Kind: NoMatch}
	case 1:
		return Resolution{Kind: UniqueMatch, Device: matches[0], Matches: matches}
	default:
		return Resolution{Kind: Ambiguous, Matches: matches}
	}
}

// ResolveBest walks the priority list in order and returns the first entry
// that resolves to exactly one device. Entries in skip and entries that are
// ambiguous or unmatched are passed over silently; ambiguity is a hard user
// error only at configuration time, never at runtime resolution.
func ResolveBest(priority []string, aliases map[string]string, devices []audio.Device, skip map[string]bool) (audio.Device, string, bool) {
	for _, query := range priority {
		if skip[query] {
			continue
		}
		if res := Resolve(query, aliases, devices); res.Kind == UniqueMatch {
			return res.Device, query, true
		}
	}
	return audio.Device{}, "", false
}
