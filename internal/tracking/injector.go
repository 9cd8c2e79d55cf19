// Package tracking implements open/click tracking: rewriting outbound HTML
// to route links through the click redirector, appending the open pixel and
// unsubscribe footer, and the HTTP endpoints the rewritten URLs point at.
package tracking

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// hrefPattern matches double-quoted href attributes in rendered HTML
var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// Injector rewrites outbound HTML for tracking. All rewrites are idempotent:
// retries re-render the same template, so applying the injector twice must
// leave the message unchanged.
type Injector struct {
	baseURL string
}

func NewInjector(baseURL string) *Injector {
	return &Injector{baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenPixelURL returns the open-tracking pixel URL for a send
func (in *Injector) OpenPixelURL(sendID string) string {
	return fmt.Sprintf("%s/t/open?sid=%s", in.baseURL, url.QueryEscape(sendID))
}

// ClickURL returns the click-redirector URL wrapping target for a send
func (in *Injector) ClickURL(sendID, target string) string {
	return fmt.Sprintf("%s/t/click?sid=%s&url=%s", in.baseURL, url.QueryEscape(sendID), url.QueryEscape(target))
}

// UnsubscribeURL returns the unsubscribe URL for a send
func (in *Injector) UnsubscribeURL(sendID string) string {
	return fmt.Sprintf("%s/t/unsubscribe?sid=%s", in.baseURL, url.QueryEscape(sendID))
}

// InjectTracking rewrites every hyperlink to point at the click redirector
// and appends the 1x1 open pixel. Links already pointing at tracking or
// unsubscribe endpoints are left alone.
func (in *Injector) InjectTracking(html, sendID string) string {
	out := hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		target := hrefPattern.FindStringSubmatch(match)[1]
		if !in.trackable(target) {
			return match
		}
		return fmt.Sprintf(`href="%s"`, in.ClickURL(sendID, target))
	})

	return in.appendPixel(out, sendID)
}

// InjectUnsubscribe appends a visible unsubscribe footer and returns the
// List-Unsubscribe headers for one-click unsubscribe compliance.
func (in *Injector) InjectUnsubscribe(html, sendID string) (string, map[string]string) {
	unsubURL := in.UnsubscribeURL(sendID)

	headers := map[string]string{
		"List-Unsubscribe":      fmt.Sprintf("<%s>", unsubURL),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}

	if strings.Contains(html, unsubURL) {
		return html, headers
	}

	footer := fmt.Sprintf(
		`<p style="font-size:12px;color:#888888;margin-top:24px;">If you'd rather not hear from us, you can <a href="%s">unsubscribe</a>.</p>`,
		unsubURL,
	)
	return insertBeforeBodyEnd(html, footer), headers
}

func (in *Injector) appendPixel(html, sendID string) string {
	pixelURL := in.OpenPixelURL(sendID)
	if strings.Contains(html, pixelURL) {
		return html
	}
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="">`, pixelURL)
	return insertBeforeBodyEnd(html, pixel)
}

// trackable reports whether a link target should be routed through the
// redirector
func (in *Injector) trackable(target string) bool {
	lower := strings.ToLower(target)
	switch {
	case strings.HasPrefix(lower, "mailto:"), strings.HasPrefix(lower, "tel:"):
		return false
	case strings.HasPrefix(target, "#"):
		return false
	case strings.HasPrefix(target, in.baseURL+"/t/"):
		// Already wrapped or pointing at the unsubscribe endpoint
		return false
	}
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func insertBeforeBodyEnd(html, fragment string) string {
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + fragment + html[idx:]
	}
	return html + fragment
}
