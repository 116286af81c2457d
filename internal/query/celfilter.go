package query

import (
	"strings"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("level", cel.StringType),
		cel.Variable("rank", cel.IntType),
		cel.Variable("message", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("agent", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("execution", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("rbac", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("error", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("metadata", cel.DynType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against e. Evaluation errors, such as a
// missing map key, count as a non-match.
func (f celFilter) Eval(e *model.LogEntry) bool {
	if !f.enabled {
		return true
	}
	metrics := map[string]float64{}
	for k, v := range e.Metrics {
		metrics[k] = v
	}
	rbac := map[string]string{}
	if e.RBAC != nil {
		rbac["decision"] = e.RBAC.Decision
		rbac["permission_checked"] = e.RBAC.PermissionChecked
		rbac["reason"] = e.RBAC.Reason
	}
	errInfo := map[string]string{}
	if e.Error != nil {
		errInfo["name"] = e.Error.Name
		errInfo["message"] = e.Error.Message
		errInfo["code"] = e.Error.Code
	}
	metadata := map[string]any{}
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	out, _, err := f.prog.Eval(map[string]any{
		"level":   e.Level.String(),
		"rank":    int64(e.Level),
		"message": e.Message,
		"ts_ms":   e.Timestamp.UnixMilli(),
		"agent": map[string]string{
			"agent_id": e.Agent.AgentID,
			"name":     e.Agent.Name,
			"role":     e.Agent.Role,
			"category": e.Agent.Category,
		},
		"execution": map[string]string{
			"correlation_id": e.Execution.CorrelationID,
			"session_id":     e.Execution.SessionID,
			"task_id":        e.Execution.TaskID,
			"operation":      e.Execution.Operation,
			"target":         e.Execution.Target,
		},
		"metrics":  metrics,
		"rbac":     rbac,
		"error":    errInfo,
		"metadata": metadata,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
