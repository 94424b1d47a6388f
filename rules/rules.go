// Package rules holds the per-domain fetch overrides: which hosts are
// known to need a browser render, how long their lazy-loaded content
// takes to settle, and whether stealth is required up front.
package rules

import (
	"strings"
	"time"
)

// DomainRule describes the fetch overrides for a hostname pattern.
// Rules are immutable once loaded; lookups never mutate the store.
type DomainRule struct {
	// HostPattern is the registered hostname suffix, e.g. "olx.com.pk".
	HostPattern string `json:"host_pattern"`

	// HTMLThreshold is the minimum static HTML byte length below which
	// the detector treats the page as needing a render.
	HTMLThreshold int `json:"threshold"`

	// WaitTime is the settle delay applied after network quiescence.
	WaitTime time.Duration `json:"-"`

	// WaitSeconds is the JSON-facing form of WaitTime.
	WaitSeconds float64 `json:"wait_time,omitempty"`

	// Stealth mandates anti-detection measures for this host. A stealth
	// rule short-circuits the static attempt entirely.
	Stealth bool `json:"stealth,omitempty"`

	// ForceRender mandates a browser render regardless of content.
	ForceRender bool `json:"force_render,omitempty"`

	// BlockResources toggles request interception during renders. Nil
	// means the rule has no opinion and the engine default applies; an
	// explicit false opts the domain out even when the default is on.
	BlockResources *bool `json:"block_resources,omitempty"`

	// Reason documents why the rule exists. Informational only.
	Reason string `json:"reason,omitempty"`
}

// Store maps hostnames to domain rules. Matching is deterministic: an
// exact hostname match wins, then progressively shorter registered
// suffixes, then the built-in default. Absence of a specific rule is
// not a failure.
type Store struct {
	rules map[string]DomainRule
	def   DomainRule
}

// NewStore builds a Store from the given rules and default. The default
// applies whenever no pattern matches; its HostPattern is ignored.
func NewStore(def DomainRule, list []DomainRule) *Store {
	m := make(map[string]DomainRule, len(list))
	for _, r := range list {
		if r.WaitTime == 0 && r.WaitSeconds > 0 {
			r.WaitTime = time.Duration(r.WaitSeconds * float64(time.Second))
		}
		m[strings.ToLower(r.HostPattern)] = r
	}
	return &Store{rules: m, def: def}
}

// Lookup returns the rule for a hostname. The leading "www." label is
// ignored, then the full host is tried, then each shorter suffix
// ("a.b.olx.com.pk" → "b.olx.com.pk" → "olx.com.pk" → ...).
func (s *Store) Lookup(hostname string) DomainRule {
	host := strings.ToLower(strings.TrimSuffix(hostname, "."))
	host = strings.TrimPrefix(host, "www.")

	for host != "" {
		if r, ok := s.rules[host]; ok {
			return r
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return s.def
}

// Default returns the fallback rule.
func (s *Store) Default() DomainRule {
	return s.def
}

// Builtin returns the shipped rule table. Thresholds and wait times come
// from observed behavior of each site; stealth entries also force a
// render because their static responses are interstitials anyway.
func Builtin() []DomainRule {
	sec := func(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
	block := Bool(true)
	return []DomainRule{
		{HostPattern: "olx.com.pk", HTMLThreshold: 5000, WaitTime: sec(3.0), Stealth: true, ForceRender: true, BlockResources: block, Reason: "OLX lazy loads listings"},
		{HostPattern: "zameen.com", HTMLThreshold: 4000, WaitTime: sec(2.5), BlockResources: block, Reason: "Property listings JS-rendered"},
		{HostPattern: "daraz.pk", HTMLThreshold: 6000, WaitTime: sec(2.0), Stealth: true, ForceRender: true, BlockResources: block, Reason: "React-based product pages"},
		{HostPattern: "graana.com", HTMLThreshold: 4000, WaitTime: sec(2.0), BlockResources: block, Reason: "Real estate JS-heavy"},
		{HostPattern: "lamudi.pk", HTMLThreshold: 4000, WaitTime: sec(2.0), BlockResources: block, Reason: "Property listings JS-rendered"},
		{HostPattern: "pakwheels.com", HTMLThreshold: 5000, WaitTime: sec(2.0), BlockResources: block, Reason: "Car listings lazy-loaded"},
		{HostPattern: "amazon.com", HTMLThreshold: 8000, WaitTime: sec(2.0), Stealth: true, ForceRender: true, BlockResources: block, Reason: "Dynamic product loading"},
		{HostPattern: "ebay.com", HTMLThreshold: 7000, WaitTime: sec(2.0), Stealth: true, ForceRender: true, BlockResources: block, Reason: "JS-rendered listings"},
		{HostPattern: "zillow.com", HTMLThreshold: 6000, WaitTime: sec(2.5), BlockResources: block, Reason: "Real estate JS-heavy"},
		{HostPattern: "realtor.com", HTMLThreshold: 6000, WaitTime: sec(2.5), BlockResources: block, Reason: "Property data JS-loaded"},
		{HostPattern: "airbnb.com", HTMLThreshold: 5000, WaitTime: sec(3.0), BlockResources: block, Reason: "Listings are React-based"},
		{HostPattern: "unstop.com", HTMLThreshold: 5000, WaitTime: sec(3.0), BlockResources: block, Reason: "Angular app behind a loader screen"},
	}
}

// Bool returns a pointer for the tri-state rule fields.
func Bool(b bool) *bool {
	return &b
}
