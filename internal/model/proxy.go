// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // encoded path hint, see url.URL.RawPath
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string // upstream status line, e.g. "200 OK"
	Header     http.Header
	Body       io.ReadCloser

	// URL is the upstream URL that produced this response. After a resolved
	// redirect it is the redirect target.
	URL string
}
