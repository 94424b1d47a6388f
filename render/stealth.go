package render

import (
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

const stealthUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// viewports are common desktop resolutions; one is picked per render so
// repeated sessions don't share an identical fingerprint.
var viewports = []struct{ w, h int }{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1600, 900},
}

// applyStealth installs the anti-detection measures on a page before
// navigation: the stealth JS bundle (webdriver masking, plugin and
// permission spoofing), a randomized desktop viewport, a fixed Chrome
// user agent, and browser-like fetch metadata headers with a Google
// search referer. Failures are logged and skipped; a partially
// stealthed render is still worth attempting.
func applyStealth(page *rod.Page, target string) {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("render: stealth injection failed, proceeding without",
			"error", err)
	}

	vp := viewports[rand.Intn(len(viewports))]
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.w,
		Height:            vp.h,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Debug("render: viewport override failed", "error", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      stealthUA,
		AcceptLanguage: "en-US,en;q=0.9",
	}).Call(page); err != nil {
		slog.Debug("render: user agent override failed", "error", err)
	}

	headers := map[string]string{
		"Accept-Language": "en-US,en;q=0.9",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "cross-site",
		"Sec-Fetch-User":  "?1",
	}
	if u, err := url.Parse(target); err == nil {
		headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
	}
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(headers),
	}.Call(page)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// navigationJitter sleeps a random 50-250ms so navigations from the
// same process don't arrive with machine-regular timing.
func navigationJitter() {
	time.Sleep(time.Duration(50+rand.Intn(200)) * time.Millisecond)
}
