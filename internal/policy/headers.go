package policy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/config"
)

// Cross-origin isolation headers set on CSS/JS assets.
const (
	HeaderCrossOriginResourcePolicy = "Cross-Origin-Resource-Policy"
	HeaderCrossOriginEmbedderPolicy = "Cross-Origin-Embedder-Policy"
	HeaderCrossOriginOpenerPolicy   = "Cross-Origin-Opener-Policy"
)

const accessControlPrefix = "Access-Control-"

// HopByHopHeaders are headers that must not be forwarded by proxies.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Headers is the header rewriting policy built once from config.
type Headers struct {
	strippedRequest  map[string]bool
	strippedResponse map[string]bool
	correctAssets    bool

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

// NewHeaders builds the header policy from config.
func NewHeaders(cfg *config.Config) *Headers {
	h := &Headers{
		strippedRequest:  toSet(cfg.Proxy.StrippedRequestHeaders),
		strippedResponse: toSet(cfg.Proxy.StrippedResponseHeaders),
		correctAssets:    cfg.Proxy.CorrectsAssets(),
		allowMethods:     strings.Join(orDefault(cfg.CORS.AllowMethods, config.DefaultAllowMethods), ", "),
		allowHeaders:     strings.Join(orDefault(cfg.CORS.AllowHeaders, config.DefaultAllowHeaders), ", "),
		exposeHeaders:    strings.Join(orDefault(cfg.CORS.ExposeHeaders, config.DefaultExposeHeaders), ", "),
		maxAge:           "86400",
	}
	if cfg.CORS.MaxAgeSeconds > 0 {
		h.maxAge = strconv.Itoa(cfg.CORS.MaxAgeSeconds)
	}
	for _, k := range HopByHopHeaders {
		h.strippedRequest[http.CanonicalHeaderKey(k)] = true
	}
	return h
}

// CorrectsAssets reports whether asset content-type correction is active.
func (h *Headers) CorrectsAssets() bool {
	return h.correctAssets
}

// RequestHeaders returns a copy of src without the stripped request headers
// and hop-by-hop headers.
func (h *Headers) RequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if h.strippedRequest[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

// SetCORS sets the forced CORS headers on dst, replacing any existing values.
func (h *Headers) SetCORS(dst http.Header) {
	dst.Set(echo.HeaderAccessControlAllowOrigin, "*")
	dst.Set(echo.HeaderAccessControlAllowMethods, h.allowMethods)
	dst.Set(echo.HeaderAccessControlAllowHeaders, h.allowHeaders)
	dst.Set(echo.HeaderAccessControlExposeHeaders, h.exposeHeaders)
}

// SetPreflight sets the static preflight response headers on dst.
func (h *Headers) SetPreflight(dst http.Header) {
	dst.Set(echo.HeaderAccessControlAllowOrigin, "*")
	dst.Set(echo.HeaderAccessControlAllowMethods, h.allowMethods)
	dst.Set(echo.HeaderAccessControlAllowHeaders, h.allowHeaders)
	dst.Set(echo.HeaderAccessControlMaxAge, h.maxAge)
	dst.Set(echo.HeaderVary, echo.HeaderOrigin)
}

// ResponseHeaders assembles the client-facing header set for an upstream
// response: forced CORS headers, cross-origin policy and corrected
// Content-Type for assets, then every remaining upstream header that is not
// stripped. Headers set by the policy are never overwritten by upstream values.
func (h *Headers) ResponseHeaders(upstream http.Header, class Class) http.Header {
	dst := make(http.Header, len(upstream)+7)
	h.SetCORS(dst)

	if h.correctAssets && class.IsAsset() {
		dst.Set(HeaderCrossOriginResourcePolicy, "cross-origin")
		dst.Set(HeaderCrossOriginEmbedderPolicy, "unsafe-none")
		dst.Set(HeaderCrossOriginOpenerPolicy, "unsafe-none")

		ct := upstream.Get(echo.HeaderContentType)
		if class.CSS && !IsCSSContentType(ct) {
			ct = CSSContentType
		}
		if ct != "" {
			dst.Set(echo.HeaderContentType, ct)
		}
	}

	for key, vals := range upstream {
		ck := http.CanonicalHeaderKey(key)
		if h.strippedResponse[ck] || isHopByHop(ck) || strings.HasPrefix(ck, accessControlPrefix) {
			continue
		}
		if _, set := dst[ck]; set {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}

	return dst
}

func isHopByHop(canonicalKey string) bool {
	for _, k := range HopByHopHeaders {
		if canonicalKey == http.CanonicalHeaderKey(k) {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range config.CanonicalHeaders(names) {
		set[n] = true
	}
	return set
}

func orDefault(vals, def []string) []string {
	if len(vals) == 0 {
		return def
	}
	return vals
}
