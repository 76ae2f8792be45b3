// Package policy implements the per-request header rewriting rules: forced
// CORS headers, header stripping in both directions, CSS/JS asset
// classification and content-type correction.
package policy

import (
	"strings"
)

// CSSContentType is the Content-Type forced onto CSS assets whose upstream
// type does not already say CSS.
const CSSContentType = "text/css; charset=utf-8"

var (
	cssTypes = []string{"text/css"}
	jsTypes  = []string{"text/javascript", "application/javascript"}

	cssSuffixes = []string{".css", ".min.css"}
	jsSuffixes  = []string{".js", ".min.js"}

	// Upstream types that mean an error or login page was served instead of a stylesheet.
	cssMismatchTypes = []string{"text/html", "application/json"}
)

// Class is the asset classification of a proxied resource. CSS and JS are
// derived independently, so both may be set.
type Class struct {
	CSS bool
	JS  bool
}

// IsAsset reports whether the resource is a CSS or JS asset.
func (c Class) IsAsset() bool {
	return c.CSS || c.JS
}

// String returns a bounded label for logs and metrics.
func (c Class) String() string {
	switch {
	case c.CSS:
		return "css"
	case c.JS:
		return "js"
	default:
		return "none"
	}
}

// Classify combines the two signals: the response Content-Type and the
// request path. Either one is enough.
func Classify(path, contentType string) Class {
	return Class{
		CSS: IsCSSContentType(contentType) || IsCSSPath(path),
		JS:  IsJSContentType(contentType) || IsJSPath(path),
	}
}

// IsCSSContentType reports whether a Content-Type value names a stylesheet.
func IsCSSContentType(ct string) bool {
	return containsAny(strings.ToLower(ct), cssTypes)
}

// IsJSContentType reports whether a Content-Type value names a script.
func IsJSContentType(ct string) bool {
	return containsAny(strings.ToLower(ct), jsTypes)
}

// IsCSSPath reports whether a request path looks like a stylesheet.
func IsCSSPath(path string) bool {
	return pathMatches(path, cssSuffixes, "/css/")
}

// IsJSPath reports whether a request path looks like a script.
// "/app.json" is not a script: extensions only match as suffixes.
func IsJSPath(path string) bool {
	return pathMatches(path, jsSuffixes, "/js/")
}

// IsCSSMismatch reports whether a response classified as CSS carries a
// Content-Type that means the upstream served something else.
func IsCSSMismatch(c Class, contentType string) bool {
	if !c.CSS {
		return false
	}
	return containsAny(strings.ToLower(contentType), cssMismatchTypes)
}

func pathMatches(path string, suffixes []string, dir string) bool {
	p := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return strings.Contains(p, dir)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
