package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-edge-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the admin health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusBody struct {
	Status                     string `json:"status"`
	Version                    string `json:"version"`
	Upstream                   string `json:"upstream"`
	FollowRedirects            bool   `json:"follow_redirects"`
	AssetContentTypeCorrection bool   `json:"asset_content_type_correction"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{
		Status:                     "ok",
		Version:                    string(h.version),
		Upstream:                   h.cfg.Upstream.BaseURL(),
		FollowRedirects:            h.cfg.Upstream.FollowsRedirects(),
		AssetContentTypeCorrection: h.cfg.Proxy.CorrectsAssets(),
	})
}
