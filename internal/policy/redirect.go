package policy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrNoLocation is returned when a redirect response carries no Location header.
var ErrNoLocation = errors.New("redirect without Location header")

// IsRedirect reports whether status is a 3xx redirect that carries a Location.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// ResolveLocation resolves a Location header value against the URL of the
// request that produced it. Relative locations become absolute on the same
// upstream host.
func ResolveLocation(base *url.URL, location string) (*url.URL, error) {
	if location == "" {
		return nil, ErrNoLocation
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse location %q: %w", location, err)
	}
	return base.ResolveReference(ref), nil
}
