package olx

import "strings"

var (
	// Titles served by anti-bot interstitials instead of the listing index.
	blockedTitles = []string{
		"just a moment",
		"attention required",
		"access denied",
		"403 forbidden",
		"429 too many requests",
		"are you a robot",
	}

	// Markup markers of challenge pages. Checked only when no listing cards
	// rendered, since normal pages may embed captcha scripts for login.
	challengeMarkers = []struct {
		marker string
		reason string
	}{
		{"challenges.cloudflare.com", "cloudflare_challenge"},
		{"cf-browser-verification", "cloudflare_challenge"},
		{"challenge-platform", "cloudflare_challenge"},
		{`id="challenge-form"`, "cloudflare_challenge"},
		{"cf-turnstile", "cloudflare_challenge"},
		{"px-captcha", "captcha"},
		{"g-recaptcha", "captcha"},
		{"h-captcha", "captcha"},
		{"captcha-delivery.com", "captcha"},
		{"verify you are human", "captcha"},
		{"too many requests", "429_rate_limited"},
		{"access denied", "403_forbidden"},
	}
)

// detectBlock reports whether a rendered page is an anti-automation response
// rather than a listing index, and a short reason for logs and run records.
func detectBlock(title, html string, entries int) (string, bool) {
	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	for _, t := range blockedTitles {
		if strings.Contains(lowerTitle, t) {
			return "blocked_title:" + t, true
		}
	}

	if entries > 0 {
		return "", false
	}

	lowerHTML := strings.ToLower(html)
	for _, m := range challengeMarkers {
		if strings.Contains(lowerHTML, m.marker) {
			return m.reason, true
		}
	}
	return "", false
}
