package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Signals is the evidence record extracted from a static HTML body.
// It is ephemeral: computed per attempt, never persisted.
type Signals struct {
	// HTMLLength is the raw byte length of the document.
	HTMLLength int

	// ScriptCount is the number of <script> tags.
	ScriptCount int

	// TextRatio is visible-text bytes over total bytes.
	TextRatio float64

	// Framework names the detected JS framework, if any.
	Framework string

	// EmptyRoot is true when a framework mount point (#root, #app,
	// #__next, <app-root>) exists with no element children.
	EmptyRoot bool

	// Placeholder is true for skeleton/loader shells.
	Placeholder bool
}

// frameworkSignatures maps a framework name to markers found in its
// pre-hydration HTML.
var frameworkSignatures = []struct {
	name    string
	markers []string
}{
	{"Next.js", []string{`id="__next"`, "__NEXT_DATA__", "/_next/static/", "next-route-announcer"}},
	{"React", []string{"data-reactroot", "data-react-helmet", "react-dom"}},
	{"Vue", []string{"data-vue-ssr", "__NUXT__", "vue-router"}},
	{"Angular", []string{"ng-version", "ng-app", "<app-root"}},
	{"Svelte", []string{"data-svelte"}},
}

// rootSelectors are the mount points SPAs hydrate into.
var rootSelectors = []string{"#root", "#app", "#__next", "app-root"}

// placeholderMarkers indicate a loading shell rather than content.
var placeholderMarkers = []string{
	`class="skeleton`,
	`class="loading`,
	`class="loader`,
	"home-loader-screen",
	"Loading...",
	"Please wait",
	"Please Wait",
}

// challengeMarkers are served by bot-protection interstitials instead of
// real content. Detection is case-insensitive.
var challengeMarkers = []string{
	"cf-browser-verification",
	"just a moment",
	"checking your browser",
	"ddos protection",
	"verifying you are human",
	"please wait while we verify",
	"enable javascript and cookies",
	"cf-turnstile",
	"hcaptcha",
	"recaptcha",
	"datadome",
	"perimeterx",
}

// Analyze extracts Signals from a static HTML body. It is pure and
// cheap enough to run on every static response.
func Analyze(body string) Signals {
	lower := strings.ToLower(body)

	sig := Signals{
		HTMLLength:  len(body),
		ScriptCount: strings.Count(lower, "<script"),
		TextRatio:   textRatio(body),
	}

	for _, fw := range frameworkSignatures {
		for _, m := range fw.markers {
			if strings.Contains(body, m) {
				sig.Framework = fw.name
				break
			}
		}
		if sig.Framework != "" {
			break
		}
	}

	sig.EmptyRoot = hasEmptyRoot(body)

	for _, m := range placeholderMarkers {
		if strings.Contains(body, m) {
			sig.Placeholder = true
			break
		}
	}

	return sig
}

// HasChallengeMarkers reports whether the body looks like a
// bot-verification interstitial. The retry coordinator acts on this;
// the detector itself never escalates for challenges.
func HasChallengeMarkers(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// hasEmptyRoot checks whether a known SPA mount point exists and has no
// element children (pre-hydration shell).
func hasEmptyRoot(body string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range rootSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if node.Children().Length() == 0 && strings.TrimSpace(node.Text()) == "" {
			return true
		}
	}
	return false
}

// textRatio computes visible-text bytes over total bytes, skipping
// script/style/noscript content.
func textRatio(body string) float64 {
	if len(body) == 0 {
		return 0
	}
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var textLen int
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return float64(textLen) / float64(len(body))
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				textLen += len(strings.TrimSpace(string(tokenizer.Text())))
			}
		}
	}
}
