package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/scrapigen/scrapigen/detect"
	"github.com/scrapigen/scrapigen/models"
)

// OutcomeKind classifies one fetch attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means usable content came back.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeBotChallenge means the response is an anti-bot interstitial
	// or a 403/429 block, not real page content.
	OutcomeBotChallenge
	// OutcomeEmpty means the response is too small to be a real page.
	OutcomeEmpty
	// OutcomeTransient means the attempt failed for a reason likely to
	// clear on retry (timeout, reset, browser hiccup).
	OutcomeTransient
	// OutcomeFatal means retrying cannot help (bad URL, no such host,
	// pool exhausted).
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBotChallenge:
		return "bot_challenge"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// blockedStatus are HTTP statuses treated as bot blocks regardless of
// body content.
var blockedStatus = map[int]bool{403: true, 429: true}

// Classify maps an attempt's raw result into an Outcome. Error
// classification runs first; a body is only inspected when the attempt
// returned one.
func Classify(html string, status int, err error, emptyThreshold int) Outcome {
	if err != nil {
		return classifyError(err)
	}

	if blockedStatus[status] || detect.HasChallengeMarkers(html) {
		return Outcome{Kind: OutcomeBotChallenge, Reason: "challenge page or blocked status"}
	}
	if len(html) < emptyThreshold {
		return Outcome{Kind: OutcomeEmpty, Reason: "body below empty threshold"}
	}
	return Outcome{Kind: OutcomeSuccess, Reason: "content accepted"}
}

func classifyError(err error) Outcome {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		switch fe.Code {
		case models.ErrCodeInvalidURL, models.ErrCodePoolExhausted:
			return Outcome{Kind: OutcomeFatal, Reason: fe.Code}
		case models.ErrCodeTimeout, models.ErrCodeBrowserCrash:
			return Outcome{Kind: OutcomeTransient, Reason: fe.Code}
		case models.ErrCodeNavigation:
			if isUnresolvable(fe) {
				return Outcome{Kind: OutcomeFatal, Reason: "host does not resolve"}
			}
			return Outcome{Kind: OutcomeTransient, Reason: fe.Code}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Outcome{Kind: OutcomeTransient, Reason: "deadline exceeded"}
	}
	if isUnresolvable(err) {
		return Outcome{Kind: OutcomeFatal, Reason: "host does not resolve"}
	}
	// Unknown transport errors (reset, EOF, dial) are worth a retry.
	return Outcome{Kind: OutcomeTransient, Reason: "transport error"}
}

// isUnresolvable spots DNS failures, which no amount of retrying or
// escalating fixes.
func isUnresolvable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "err_name_not_resolved") ||
		strings.Contains(msg, "server misbehaving")
}

// nextAction is what the retry loop does after classifying an attempt.
type nextAction int

const (
	actAccept nextAction = iota
	// actEscalate moves up one level: static becomes render, render
	// becomes render with stealth.
	actEscalate
	// actRetry backs off and repeats the same level.
	actRetry
	actFail
)

// plan decides the follow-up for an outcome given the level the attempt
// ran at. Escalation only ever moves up; once at stealth render the only
// remaining lever is backoff.
func plan(o Outcome, d detect.Decision) nextAction {
	switch o.Kind {
	case OutcomeSuccess:
		return actAccept
	case OutcomeEmpty:
		if d.Strategy == detect.StrategyStatic {
			return actEscalate
		}
		// A rendered page that is still tiny is genuinely tiny.
		return actAccept
	case OutcomeBotChallenge:
		if d.Strategy == detect.StrategyStatic || !d.Stealth {
			return actEscalate
		}
		return actRetry
	case OutcomeTransient:
		return actRetry
	default:
		return actFail
	}
}

// backoff computes the pause before retry attempt n (0-based):
// exponential growth from base, capped, with half the delay randomized
// so synchronized clients spread out.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			d = limit
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
