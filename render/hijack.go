package render

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps rule/config resource names to Rod protocol resource
// types. Beacons and CSP reports map to their CDP names.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Media":      proto.NetworkResourceTypeMedia,
	"Font":       proto.NetworkResourceTypeFont,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Script":     proto.NetworkResourceTypeScript,
	"Beacon":     proto.NetworkResourceTypePing,
	"CSPReport":  proto.NetworkResourceTypeCSPViolationReport,
}

// setupHijack installs a request interceptor that aborts requests for
// the given resource types. Script is intentionally never in the default
// block list since rendering exists to run scripts, but a rule may still
// name it.
//
// Returns the running HijackRouter so the caller can defer router.Stop(),
// or nil if there is nothing to block.
func setupHijack(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType intercepts everything; the
	// handler decides per-request.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks; it exits when router.Stop() is called.
	go router.Run()

	return router
}
