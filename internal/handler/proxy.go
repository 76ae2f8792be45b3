package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/config"
	"cors-edge-proxy/internal/model"
	"cors-edge-proxy/internal/policy"
	"cors-edge-proxy/internal/service"
)

// debugQueryParam short-circuits proxying when debug dumps are enabled.
const debugQueryParam = "debug"

// ProxyHandler forwards every non-admin request to the configured upstream.
type ProxyHandler struct {
	service *service.ProxyService
	headers *policy.Headers
	debug   bool
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		headers: svc.Headers(),
		debug:   cfg.Proxy.DebugQuery,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodOptions {
		return h.Preflight(c)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	if h.debug && req.URL.Query().Has(debugQueryParam) {
		return h.dump(c, pr)
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Headers already set by middleware, such as X-Request-Id, are kept.
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if _, set := dst[key]; set {
			continue
		}
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already sent; a failed copy leaves the client with a
	// truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
			"upstream_status", resp.Status,
		)
	}

	return nil
}

// Preflight answers a CORS preflight locally with an empty 200 response.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	h.headers.SetPreflight(c.Response().Header())
	return c.NoContent(http.StatusOK)
}

type debugDump struct {
	TargetURL   string            `json:"target_url"`
	OriginalURL string            `json:"original_url"`
	Path        string            `json:"path"`
	IsCSS       bool              `json:"is_css"`
	IsJS        bool              `json:"is_js"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
}

// dump reports how a request would be forwarded without contacting upstream.
func (h *ProxyHandler) dump(c echo.Context, pr *model.ProxyRequest) error {
	req := c.Request()

	headers := make(map[string]string, len(pr.Header))
	for k, v := range pr.Header {
		headers[k] = strings.Join(v, ", ")
	}

	original := url.URL{
		Scheme:   c.Scheme(),
		Host:     req.Host,
		Path:     pr.Path,
		RawPath:  pr.RawPath,
		RawQuery: pr.RawQuery,
	}

	h.headers.SetCORS(c.Response().Header())
	return c.JSON(http.StatusOK, debugDump{
		TargetURL:   h.service.TargetURL(pr),
		OriginalURL: original.String(),
		Path:        pr.Path,
		IsCSS:       policy.IsCSSPath(pr.Path),
		IsJS:        policy.IsJSPath(pr.Path),
		Method:      pr.Method,
		Headers:     headers,
	})
}

type mismatchBody struct {
	Error    string            `json:"error"`
	Expected string            `json:"expected"`
	Actual   string            `json:"actual"`
	URL      string            `json:"url"`
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Title    string            `json:"title,omitempty"`
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.headers.SetCORS(c.Response().Header())

	var mm *service.ContentTypeMismatchError
	if errors.As(err, &mm) {
		headers := make(map[string]string, len(mm.Header))
		for k, v := range mm.Header {
			headers[k] = strings.Join(v, ", ")
		}
		return c.JSON(http.StatusBadGateway, mismatchBody{
			Error:    mm.Error(),
			Expected: mm.Expected,
			Actual:   mm.Actual,
			URL:      mm.URL,
			Status:   mm.Status,
			Headers:  headers,
			Title:    mm.Title,
		})
	}

	target := ""
	var ue *service.UpstreamError
	if errors.As(err, &ue) {
		target = ue.URL
	}

	h.logger.Error("proxy error",
		"err", err,
		"kind", errorKind(err),
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": errorMessage(err),
		"url":   target,
	})
}

// errorMessage returns the underlying failure without the request URL that
// net/http prepends; the URL is reported separately.
func errorMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	var ue *service.UpstreamError
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return err.Error()
}

// errorKind buckets a transport error for logging.
func errorKind(err error) string {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr):
		return "connect"
	default:
		return "other"
	}
}
