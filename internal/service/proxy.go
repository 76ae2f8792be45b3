// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cors-edge-proxy/internal/client"
	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/metrics"
	"cors-edge-proxy/internal/model"
	"cors-edge-proxy/internal/policy"
)

// titleReadLimit bounds how much of an HTML error page is read for diagnostics.
const titleReadLimit = 64 << 10

// crossHostSensitiveHeaders are dropped when a resolved redirect leaves the upstream host.
var crossHostSensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// UpstreamError is returned when the upstream request could not be built or sent.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("forward to %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ContentTypeMismatchError is returned when a CSS request is answered with an
// HTML or JSON document, typically an error or login page. The upstream body
// has already been closed.
type ContentTypeMismatchError struct {
	URL      string
	Status   int
	Expected string
	Actual   string
	Header   http.Header
	Title    string
}

func (e *ContentTypeMismatchError) Error() string {
	return "CSS file returned wrong content type"
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.UpstreamClient
	headers *policy.Headers
	metrics *metrics.Metrics
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, h *policy.Headers, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream host is empty")
	}

	return &ProxyService{
		client:  c,
		headers: h,
		metrics: m,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Headers returns the header policy used by the service.
func (s *ProxyService) Headers() *policy.Headers {
	return s.headers
}

// TargetURL returns the upstream URL for an inbound request: the host is
// replaced, path and query are kept as received.
func (s *ProxyService) TargetURL(pr *model.ProxyRequest) string {
	u := *s.baseURL
	u.Path = pr.Path
	u.RawPath = pr.RawPath
	u.RawQuery = pr.RawQuery
	return u.String()
}

// Forward sends a ProxyRequest to the upstream and returns the rewritten
// response. The caller is responsible for closing the response body.
//
// Errors are either *UpstreamError (request could not be sent) or
// *ContentTypeMismatchError (CSS answered with HTML/JSON).
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.TargetURL(pr)
	header := s.headers.RequestHeaders(pr.Header)

	var body io.Reader
	var contentLength int64
	if hasBody(pr.Method) && pr.Body != nil {
		body = pr.Body
		contentLength = pr.ContentLength
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, body, contentLength)
	if err != nil {
		return nil, &UpstreamError{URL: target, Err: err}
	}

	class := policy.Classify(pr.Path, resp.Header.Get(echo.HeaderContentType))

	if !s.client.FollowsRedirects() && class.CSS && policy.IsRedirect(resp.StatusCode) {
		resp, err = s.resolveRedirect(pr, resp, header)
		if err != nil {
			return nil, err
		}
		class = policy.Classify(pr.Path, resp.Header.Get(echo.HeaderContentType))
	}

	trace.SpanFromContext(pr.Ctx).SetAttributes(
		attribute.String("proxy.asset_class", class.String()),
		attribute.String("proxy.upstream_url", resp.URL),
	)

	ct := resp.Header.Get(echo.HeaderContentType)
	if s.headers.CorrectsAssets() && policy.IsCSSMismatch(class, ct) {
		return nil, s.mismatch(resp, ct)
	}

	if s.metrics != nil {
		s.metrics.AssetResponses.WithLabelValues(class.String()).Inc()
	}

	resp.Header = s.headers.ResponseHeaders(resp.Header, class)
	return resp, nil
}

// resolveRedirect follows exactly one redirect hop for a CSS request with the
// method forced to GET. A redirect without a usable Location is returned as is.
func (s *ProxyService) resolveRedirect(pr *model.ProxyRequest, resp *model.ProxyResponse, header http.Header) (*model.ProxyResponse, error) {
	base, err := url.Parse(resp.URL)
	if err != nil {
		base = s.baseURL
	}
	loc, err := policy.ResolveLocation(base, resp.Header.Get(echo.HeaderLocation))
	if err != nil {
		s.logger.Debug("redirect not resolved", "err", err, "path", pr.Path)
		return resp, nil
	}
	_ = resp.Body.Close()

	if !strings.EqualFold(loc.Host, s.baseURL.Host) {
		header = header.Clone()
		for _, k := range crossHostSensitiveHeaders {
			header.Del(k)
		}
	}

	s.logger.Debug("resolving css redirect",
		"path", pr.Path,
		"status", resp.StatusCode,
		"location", loc.Redacted(),
	)

	next, err := s.client.DoStream(pr.Ctx, http.MethodGet, loc.String(), header, nil, 0)
	if err != nil {
		return nil, &UpstreamError{URL: loc.String(), Err: err}
	}
	if s.metrics != nil {
		s.metrics.RedirectsResolved.Inc()
	}
	return next, nil
}

// mismatch builds the diagnostic error for a CSS request answered with the
// wrong content type and discards the upstream body.
func (s *ProxyService) mismatch(resp *model.ProxyResponse, ct string) *ContentTypeMismatchError {
	defer func() { _ = resp.Body.Close() }()

	var title string
	if strings.Contains(strings.ToLower(ct), "text/html") {
		title = pageTitle(resp.Body)
	}

	if s.metrics != nil {
		s.metrics.ContentTypeMismatches.Inc()
	}
	s.logger.Warn("css content type mismatch",
		"url", resp.URL,
		"status", resp.StatusCode,
		"content_type", ct,
	)

	return &ContentTypeMismatchError{
		URL:      resp.URL,
		Status:   resp.StatusCode,
		Expected: "text/css",
		Actual:   ct,
		Header:   resp.Header.Clone(),
		Title:    title,
	}
}

// pageTitle returns the <title> of an HTML document, reading a bounded prefix.
func pageTitle(r io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, titleReadLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// hasBody reports whether a request body is forwarded for method.
func hasBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return false
	}
	return true
}
