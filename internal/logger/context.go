package logger

import (
	"encoding/json"
	"maps"
	"math"

	"github.com/dnyoussef/hooklog/internal/model"
)

// Context is the caller-supplied context for an entry. It is used both for
// the context a derived logger carries and for per-call context.
//
// When two contexts are merged the newer one wins: Agent, RBAC and Quality
// replace wholesale when set, Execution merges field by field, Metrics and
// Metadata are unions, and Err replaces.
type Context struct {
	Agent     model.AgentContext
	Execution model.ExecutionContext
	Metrics   model.Metrics
	RBAC      *model.RBACDecision
	Quality   map[string]any
	Metadata  map[string]any
	Err       error
}

// merge returns base overlaid with over. Neither argument is modified and
// the result shares no maps with them.
func merge(base, over Context) Context {
	out := Context{
		Agent:     base.Agent,
		Execution: base.Execution,
		Metrics:   unionMetrics(base.Metrics, over.Metrics),
		RBAC:      base.RBAC,
		Quality:   maps.Clone(base.Quality),
		Metadata:  unionAny(base.Metadata, over.Metadata),
		Err:       base.Err,
	}
	if over.Agent != (model.AgentContext{}) {
		out.Agent = over.Agent
	}
	out.Execution = mergeExecution(out.Execution, over.Execution)
	if over.RBAC != nil {
		r := *over.RBAC
		out.RBAC = &r
	}
	if over.Quality != nil {
		out.Quality = maps.Clone(over.Quality)
	}
	if over.Err != nil {
		out.Err = over.Err
	}
	return out
}

func mergeExecution(base, over model.ExecutionContext) model.ExecutionContext {
	if over.CorrelationID != "" {
		base.CorrelationID = over.CorrelationID
	}
	if over.SessionID != "" {
		base.SessionID = over.SessionID
	}
	if over.TaskID != "" {
		base.TaskID = over.TaskID
	}
	if over.Operation != "" {
		base.Operation = over.Operation
	}
	if over.Target != "" {
		base.Target = over.Target
	}
	return base
}

// unionMetrics copies a then b into a fresh map, skipping NaN and infinities
// which cannot be serialized.
func unionMetrics(a, b model.Metrics) model.Metrics {
	out := make(model.Metrics, len(a)+len(b))
	for _, m := range []model.Metrics{a, b} {
		for k, v := range m {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out[k] = v
		}
	}
	return out
}

func unionAny(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// sanitizeAny returns a copy of m in which every value that cannot be
// encoded as JSON is replaced by a placeholder string naming the error.
// It reports whether anything was replaced.
func sanitizeAny(m map[string]any) (map[string]any, bool) {
	if len(m) == 0 {
		return m, false
	}
	out := make(map[string]any, len(m))
	replaced := false
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			out[k] = "<unserializable: " + err.Error() + ">"
			replaced = true
			continue
		}
		out[k] = v
	}
	return out, replaced
}
