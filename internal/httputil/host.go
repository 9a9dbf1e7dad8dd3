// Package httputil holds small helpers for outbound requests.
package httputil

import (
	"net/http"
	"net/url"
)

// ReplaceHost returns a copy of req addressed to host, keeping scheme, path,
// query and fragment. host may carry a port. When the new URL cannot be
// built, req is returned unmodified.
func ReplaceHost(req *http.Request, host string) *http.Request {
	if req == nil || req.URL == nil || host == "" {
		return req
	}

	raw := *req.URL
	raw.Host = host
	u, err := url.Parse(raw.String())
	if err != nil || u.Host != host {
		return req
	}

	clone := req.Clone(req.Context())
	clone.URL = u
	clone.Host = ""
	return clone
}
