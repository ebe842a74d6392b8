// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Behavioral error categories. Adapters and the registry classify every
// failure into one of these so callers can branch on errors.Is without
// knowing provider vocabulary.
var (
	// ErrAuth indicates credentials are missing or rejected. Never retried;
	// the registry additionally marks the backend degraded.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited indicates provider throttling (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates a locally exceeded deadline or a gateway timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrTransport indicates a connection-level failure (refused, reset, DNS)
	// or a provider 5xx.
	ErrTransport = errors.New("transport failure")

	// ErrInvalidResponse indicates a 2xx response whose body could not be
	// parsed into the normalized shape, or that carried no content.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrCircuitOpen is returned by the registry when the breaker rejects a
	// request before any transport activity. Downstream behavior is identical
	// to any other backend failure.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrUnknownBackend is returned for names absent from the registry.
	ErrUnknownBackend = errors.New("unknown backend")
)

// HTTPError wraps a non-2xx provider response. Unwrap maps the status code to
// one of the behavioral categories above so errors.Is(err, ErrAuth) etc. work.
type HTTPError struct {
	Status int
	Body   string
}

// NewHTTPError builds an HTTPError with the body truncated for log safety.
func NewHTTPError(status int, body string) *HTTPError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &HTTPError{Status: status, Body: body}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Unwrap maps the HTTP status onto a behavioral category.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrAuth
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusGatewayTimeout:
		return ErrTimeout
	case e.Status >= 500:
		return ErrTransport
	default:
		return nil
	}
}

// classifyTransportError converts a net/http round-trip error into a
// behavioral category. Context expiry becomes ErrTimeout (local deadline) or
// is passed through (caller cancellation); everything else is ErrTransport.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Redact removes each secret from s, replacing it with a fixed marker.
// Used on every error string that may reach logs or tool responses.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return s
}
