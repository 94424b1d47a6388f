package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapigen/scrapigen/rules"
)

var defaultRule = rules.DomainRule{HTMLThreshold: 1000}

func defs() Defaults {
	return Defaults{WaitTime: 1500 * time.Millisecond, BlockResources: true}
}

func TestDecide_FirstAttemptIsStatic(t *testing.T) {
	d := Decide(defaultRule, nil, defs())
	assert.Equal(t, StrategyStatic, d.Strategy)
	assert.Empty(t, d.BlockedResources)
}

func TestDecide_ForceRenderRuleShortCircuits(t *testing.T) {
	rule := rules.DomainRule{ForceRender: true, WaitTime: 3 * time.Second, BlockResources: rules.Bool(true)}
	d := Decide(rule, nil, defs())
	require.Equal(t, StrategyRender, d.Strategy)
	assert.Equal(t, 3*time.Second, d.WaitTime)
	assert.Equal(t, DefaultBlockedResources, d.BlockedResources)
}

func TestDecide_StealthRuleShortCircuits(t *testing.T) {
	rule := rules.DomainRule{Stealth: true}
	d := Decide(rule, nil, defs())
	require.Equal(t, StrategyRender, d.Strategy)
	assert.True(t, d.Stealth)
}

func TestDecide_SufficientStaticContentStaysStatic(t *testing.T) {
	body := "<html><body>" + strings.Repeat("<p>real content here</p>", 200) + "</body></html>"
	sig := Analyze(body)
	d := Decide(defaultRule, &sig, defs())
	assert.Equal(t, StrategyStatic, d.Strategy)
}

func TestDecide_ShortBodyFlipsToRender(t *testing.T) {
	sig := Analyze("<html><body>tiny</body></html>")
	d := Decide(defaultRule, &sig, defs())
	require.Equal(t, StrategyRender, d.Strategy)
	assert.Equal(t, defs().WaitTime, d.WaitTime)
}

func TestDecide_EmptyFrameworkRootFlipsToRender(t *testing.T) {
	body := `<html><body><div id="root"></div>` +
		strings.Repeat("<p>padding to clear the length threshold</p>", 100) +
		"</body></html>"
	sig := Analyze(body)
	require.True(t, sig.EmptyRoot)
	d := Decide(defaultRule, &sig, defs())
	assert.Equal(t, StrategyRender, d.Strategy)
}

func TestDecide_SoftSignalsCombine(t *testing.T) {
	// Script-heavy framework page with almost no visible text: two
	// two-point signals must combine to cross the threshold.
	sig := Signals{
		HTMLLength:  50000,
		ScriptCount: 20,
		TextRatio:   0.01,
		Framework:   "React",
	}
	score, _ := Score(defaultRule, sig)
	assert.GreaterOrEqual(t, score, 3)

	d := Decide(defaultRule, &sig, defs())
	assert.Equal(t, StrategyRender, d.Strategy)
}

func TestDecide_SingleSoftSignalInsufficient(t *testing.T) {
	// Many scripts with a framework but healthy text ratio: 2 points,
	// below the flip threshold.
	sig := Signals{
		HTMLLength:  50000,
		ScriptCount: 20,
		TextRatio:   0.4,
		Framework:   "React",
	}
	score, _ := Score(defaultRule, sig)
	assert.Less(t, score, 3)
}

func TestDecide_RuleThresholdApplies(t *testing.T) {
	rule := rules.DomainRule{HostPattern: "zameen.com", HTMLThreshold: 4000, BlockResources: rules.Bool(true)}
	sig := Signals{HTMLLength: 2000, TextRatio: 0.5}
	d := Decide(rule, &sig, defs())
	assert.Equal(t, StrategyRender, d.Strategy, "2000 bytes is below zameen's 4000 threshold")
}

func TestDecide_RuleBlockResourcesOverridesDefault(t *testing.T) {
	// An explicit false on the rule wins over the engine default; an
	// unset rule inherits it.
	optOut := rules.DomainRule{ForceRender: true, BlockResources: rules.Bool(false)}
	d := Decide(optOut, nil, defs())
	require.Equal(t, StrategyRender, d.Strategy)
	assert.Empty(t, d.BlockedResources, "rule-level false must disable interception")

	unset := rules.DomainRule{ForceRender: true}
	d = Decide(unset, nil, defs())
	assert.Equal(t, DefaultBlockedResources, d.BlockedResources, "unset rule inherits the default")

	def := defs()
	def.BlockResources = false
	d = Decide(rules.DomainRule{ForceRender: true, BlockResources: rules.Bool(true)}, nil, def)
	assert.Equal(t, DefaultBlockedResources, d.BlockedResources, "rule-level true wins over a false default")
}

func TestEscalate_ForcesStealth(t *testing.T) {
	d := Escalate(defaultRule, defs(), true, "challenge page")
	require.Equal(t, StrategyRender, d.Strategy)
	assert.True(t, d.Stealth)
	assert.Equal(t, "challenge page", d.Reason)
}

func TestEscalate_DefaultStealthCarries(t *testing.T) {
	def := defs()
	def.Stealth = true
	d := Escalate(defaultRule, def, false, "empty body")
	assert.True(t, d.Stealth)
}

func TestAnalyze_DetectsFramework(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"nextjs", `<div id="__next"></div><script>__NEXT_DATA__ = {}</script>`, "Next.js"},
		{"react", `<div data-reactroot></div>`, "React"},
		{"angular", `<app-root ng-version="17.0.1"></app-root>`, "Angular"},
		{"none", `<html><body><p>plain page</p></body></html>`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Analyze(tc.body).Framework)
		})
	}
}

func TestAnalyze_Placeholder(t *testing.T) {
	sig := Analyze(`<html><body><div class="loading-spinner">Loading...</div></body></html>`)
	assert.True(t, sig.Placeholder)
}

func TestHasChallengeMarkers(t *testing.T) {
	assert.True(t, HasChallengeMarkers(`<title>Just a moment...</title>`))
	assert.True(t, HasChallengeMarkers(`<div class="cf-browser-verification"></div>`))
	assert.True(t, HasChallengeMarkers(`<script src="hCaptcha.js"></script>`))
	assert.False(t, HasChallengeMarkers(`<html><body>normal page about captchas in art</body></html>`))

	// The challenge check is a substring scan, so prose mentioning the
	// products will also trip it. That bias is intentional: a retried
	// render on a real page is cheap, a missed challenge is not.
	assert.True(t, HasChallengeMarkers(`we use reCAPTCHA`))
}

func TestAnalyze_TextRatioSkipsScripts(t *testing.T) {
	body := `<html><body><p>hi</p><script>` + strings.Repeat("var x = 1;", 1000) + `</script></body></html>`
	sig := Analyze(body)
	assert.Less(t, sig.TextRatio, 0.01)
}
