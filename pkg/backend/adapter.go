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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Probe timeouts. Cloud probes are cheap auth checks; local model servers
// may need longer to answer a model listing.
const (
	cloudProbeTimeout = 3 * time.Second
	localProbeTimeout = 5 * time.Second
)

// Adapter translates the generic Request into one provider's HTTP call and
// normalizes the response. It is the only component that knows provider
// vocabulary (model IDs, parameter shapes, reasoning flags).
type Adapter interface {
	// Name returns the backend name from the descriptor.
	Name() string

	// Kind returns the provider wire shape.
	Kind() Kind

	// Probe runs a cheap liveness check. It never panics or returns an
	// error; non-reachability is reported as Healthy=false with a reason.
	Probe(ctx context.Context) ProbeResult

	// Call issues one HTTP request. Failures carry one of the behavioral
	// error categories (ErrAuth, ErrRateLimited, ErrTimeout, ErrTransport,
	// ErrInvalidResponse). Cancellation via ctx returns promptly without
	// leaking the HTTP connection.
	Call(ctx context.Context, req Request) (*Response, error)
}

// NewAdapter builds the adapter for a descriptor's kind.
func NewAdapter(desc Descriptor) (Adapter, error) {
	switch desc.Kind {
	case KindLocal:
		return newOllamaAdapter(desc), nil
	case KindOpenAICompatible, KindNVIDIA, KindGroq:
		return newOpenAIAdapter(desc), nil
	case KindGemini:
		return newGeminiAdapter(desc), nil
	case KindAnthropic:
		return newAnthropicAdapter(desc), nil
	default:
		return nil, fmt.Errorf("unsupported backend kind %q for %s", desc.Kind, desc.Name)
	}
}

// postJSON marshals payload, POSTs it, and returns the body and status.
// Round-trip failures are classified into the behavioral taxonomy; non-2xx
// statuses are returned to the caller for provider-specific handling.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, classifyTransportError(ctx, err)
	}
	return respBody, httpResp.StatusCode, nil
}

// getProbe issues a GET and converts the outcome into a ProbeResult.
func getProbe(ctx context.Context, client *http.Client, url string, headers map[string]string, timeout time.Duration) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Healthy: false, Detail: fmt.Sprintf("create probe request: %v", err)}
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{Healthy: false, Latency: latency, Detail: fmt.Sprintf("unreachable: %v", err)}
	}
	defer func() { _ = httpResp.Body.Close() }()
	_, _ = io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return ProbeResult{Healthy: true, Latency: latency}
	}
	return ProbeResult{
		Healthy: false,
		Latency: latency,
		Detail:  fmt.Sprintf("probe status %d", httpResp.StatusCode),
	}
}
