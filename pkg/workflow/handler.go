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

// Package workflow implements the multi-AI tool handlers exposed over MCP:
// single-backend ask, council consensus, the generate-review-fix loop,
// the parallel TDD pipeline, role-templated subagents, and health checks.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teradata-labs/relay/pkg/backend"
	"github.com/teradata-labs/relay/pkg/mcp/protocol"
	"github.com/teradata-labs/relay/pkg/mcp/server"
	"github.com/teradata-labs/relay/pkg/patterns"
	"github.com/teradata-labs/relay/pkg/routing"
	"github.com/teradata-labs/relay/pkg/scheduler"
	"go.uber.org/zap"
)

// Handler is one MCP tool: a name, a description, a JSON Schema for its
// arguments, and the handler body. Handler errors become structured
// {success:false} payloads, not protocol errors.
type Handler interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Handle(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Env groups the collaborators every handler composes over. The dispatcher
// builds it once at startup; handlers hold no other shared state.
type Env struct {
	Registry  *backend.Registry
	Router    *routing.Router
	Monitor   *backend.Monitor
	Patterns  *patterns.Store
	Scheduler *scheduler.Manager
	Logger    *zap.Logger
}

// Dispatcher maps tool names to handlers, validates arguments against each
// tool's schema, and frames every result in the response envelope.
// It implements server.ToolProvider.
type Dispatcher struct {
	handlers map[string]Handler
	order    []string
	logger   *zap.Logger
}

var _ server.ToolProvider = (*Dispatcher)(nil)

// NewDispatcher registers the given handlers. Duplicate names are rejected.
func NewDispatcher(logger *zap.Logger, handlers ...Handler) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler, len(handlers)),
		logger:   logger,
	}
	for _, h := range handlers {
		if _, dup := d.handlers[h.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", h.Name())
		}
		d.handlers[h.Name()] = h
		d.order = append(d.order, h.Name())
	}
	sort.Strings(d.order)
	return d, nil
}

// ListTools returns the tool catalog.
func (d *Dispatcher) ListTools(_ context.Context) ([]protocol.Tool, error) {
	tools := make([]protocol.Tool, 0, len(d.order))
	for _, name := range d.order {
		h := d.handlers[name]
		tools = append(tools, protocol.Tool{
			Name:        h.Name(),
			Description: h.Description(),
			InputSchema: h.InputSchema(),
		})
	}
	return tools, nil
}

// CallTool validates the arguments, runs the handler, and serializes the
// envelope under content[0].text. Handler-level failures are returned as
// {success:false, error, detail}; the tool call itself succeeds at the MCP
// layer.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	h, ok := d.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	tool := protocol.Tool{Name: h.Name(), InputSchema: h.InputSchema()}
	if err := protocol.ValidateToolArguments(tool, args); err != nil {
		return textResult(map[string]interface{}{
			"success": false,
			"error":   "validation failed",
			"detail":  map[string]interface{}{"message": err.Error()},
			"metadata": map[string]interface{}{
				"tool":        name,
				"duration_ms": 0,
			},
		})
	}

	start := time.Now()
	result, err := h.Handle(ctx, args)
	duration := time.Since(start)

	var envelope map[string]interface{}
	if err != nil {
		d.logger.Warn("tool failed",
			zap.String("tool", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		envelope = map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"detail":  map[string]interface{}{},
		}
	} else {
		envelope = map[string]interface{}{"success": true}
		for k, v := range result {
			if k != "success" {
				envelope[k] = v
			}
		}
		if v, ok := result["success"]; ok {
			envelope["success"] = v
		}
		d.logger.Info("tool completed",
			zap.String("tool", name),
			zap.Duration("duration", duration),
		)
	}

	meta, _ := envelope["metadata"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["tool"] = name
	meta["duration_ms"] = duration.Milliseconds()
	envelope["metadata"] = meta

	return textResult(envelope)
}

// textResult serializes a payload as JSON into a single text content item.
func textResult(payload map[string]interface{}) (*protocol.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{{Type: "text", Text: string(data)}},
	}, nil
}

// observe reports one settled backend request to the learning engine.
// Outcomes arrive concurrently from fan-out paths; each settled request is
// recorded exactly once.
func (e *Env) observe(rctx routing.Context, backendName string, success bool, latency time.Duration, source routing.Source) {
	if e.Router == nil || backendName == "" {
		return
	}
	e.Router.Observe(routing.Outcome{
		Backend:    backendName,
		Complexity: rctx.Complexity,
		TaskType:   rctx.TaskType,
		Success:    success,
		LatencyMs:  latency.Milliseconds(),
		Source:     source,
	})
}

// parallel runs fn for each index up to n with at most limit in flight,
// gated through the shared scheduler when one is configured. It waits for
// all to finish.
func (e *Env) parallel(ctx context.Context, n, limit int, fn func(i int)) {
	if limit <= 0 || limit > n {
		limit = n
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if e.Scheduler != nil {
				// Do runs fn at most once. On error the slot never ran and
				// stays zero-valued; callers read that as a failed entry.
				if err := e.Scheduler.Do(ctx, scheduler.PriorityNormal, func() { fn(i) }); err != nil && e.Logger != nil {
					e.Logger.Debug("parallel slot skipped", zap.Int("index", i), zap.Error(err))
				}
				return
			}
			fn(i)
		}(i)
	}
	wg.Wait()
}

// Argument accessors. Schema validation runs before handlers, so these only
// normalize JSON number/string shapes and apply defaults.

func argString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func argFloat(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func argBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
