// Package detect decides whether a URL needs a full browser render or a
// plain HTTP fetch suffices. The decision function is pure: domain rule
// plus optional page signals in, a fresh Decision out. Escalation never
// mutates a Decision; it produces a new one.
package detect

import (
	"time"

	"github.com/scrapigen/scrapigen/rules"
)

// Strategy is the chosen fetch method.
type Strategy string

const (
	StrategyStatic Strategy = "static"
	StrategyRender Strategy = "render"
)

// Default resource types aborted during renders. Matches the Chrome
// DevTools protocol resource type names the renderer maps onto.
var DefaultBlockedResources = []string{
	"Image", "Media", "Font", "Stylesheet", "Beacon", "CSPReport",
}

// Heuristic weights for the post-fetch score. A total of renderScoreMin
// or more flips the decision to Render. Length-below-threshold and an
// empty framework root are each decisive on their own; the softer
// signals have to combine.
const (
	weightBelowThreshold = 3
	weightEmptyRoot      = 3
	weightPlaceholder    = 3
	weightLowTextRatio   = 2
	weightManyScripts    = 2

	renderScoreMin = 3

	// textRatioFloor is the visible-text share below which a page is
	// considered a script shell, provided it also carries many scripts.
	textRatioFloor = 0.05

	// manyScripts is the script count treated as "script-heavy".
	manyScripts = 15
)

// Decision says how to fetch a page. Produced fresh per attempt.
type Decision struct {
	Strategy Strategy

	// WaitTime is the settle delay applied after the quiescence wait
	// during a render. Zero for static fetches.
	WaitTime time.Duration

	// Stealth enables anti-fingerprinting measures during a render.
	Stealth bool

	// BlockedResources lists resource types aborted during a render.
	// Empty means nothing is blocked.
	BlockedResources []string

	// Reason records the evidence that produced the decision.
	Reason string
}

// Defaults carries the engine-wide fallbacks applied when the matched
// rule does not pin a value.
type Defaults struct {
	WaitTime       time.Duration
	Stealth        bool
	BlockResources bool
}

// Decide produces a RenderDecision for one attempt.
//
// Pre-fetch (sig == nil): a rule that mandates rendering or stealth is
// authoritative and short-circuits analysis; otherwise the first attempt
// is always Static.
//
// Post-fetch (sig != nil, after a static attempt returned content): a
// weighted multi-factor score over the signals decides whether to flip
// to Render. A rule that pins Render cannot be downgraded by signals;
// a rule without pins sets the threshold the length signal is judged
// against. Challenge markers are deliberately not scored here — the
// retry coordinator owns that escalation.
func Decide(rule rules.DomainRule, sig *Signals, def Defaults) Decision {
	if rule.ForceRender || rule.Stealth {
		return renderDecision(rule, def, rule.Reason)
	}

	if sig == nil {
		return Decision{Strategy: StrategyStatic, Reason: "first attempt"}
	}

	score, reason := Score(rule, *sig)
	if score >= renderScoreMin {
		return renderDecision(rule, def, reason)
	}

	return Decision{Strategy: StrategyStatic, Reason: "static content accepted"}
}

// Score computes the weighted heuristic score and the strongest piece of
// evidence behind it. Exposed so each heuristic is unit-testable.
func Score(rule rules.DomainRule, sig Signals) (int, string) {
	score := 0
	reason := ""

	threshold := rule.HTMLThreshold
	if sig.HTMLLength < threshold {
		score += weightBelowThreshold
		reason = "html below domain threshold"
	}
	if sig.EmptyRoot {
		score += weightEmptyRoot
		if reason == "" {
			reason = "empty framework root"
		}
	}
	if sig.Placeholder {
		score += weightPlaceholder
		if reason == "" {
			reason = "placeholder shell"
		}
	}
	if sig.TextRatio < textRatioFloor && sig.ScriptCount > 10 {
		score += weightLowTextRatio
		if reason == "" {
			reason = "low text ratio with script-heavy page"
		}
	}
	if sig.ScriptCount > manyScripts && sig.Framework != "" {
		score += weightManyScripts
		if reason == "" {
			reason = "script-heavy framework page"
		}
	}

	return score, reason
}

// Escalate produces the render decision used after a failed or
// insufficient attempt. forceStealth is set for bot challenges so the
// retry runs with anti-detection on regardless of the rule's default.
func Escalate(rule rules.DomainRule, def Defaults, forceStealth bool, reason string) Decision {
	d := renderDecision(rule, def, reason)
	if forceStealth {
		d.Stealth = true
	}
	return d
}

func renderDecision(rule rules.DomainRule, def Defaults, reason string) Decision {
	wait := rule.WaitTime
	if wait == 0 {
		wait = def.WaitTime
	}

	stealth := rule.Stealth || def.Stealth

	block := def.BlockResources
	if rule.BlockResources != nil {
		block = *rule.BlockResources
	}
	var blocked []string
	if block {
		blocked = DefaultBlockedResources
	}

	return Decision{
		Strategy:         StrategyRender,
		WaitTime:         wait,
		Stealth:          stealth,
		BlockedResources: blocked,
		Reason:           reason,
	}
}
