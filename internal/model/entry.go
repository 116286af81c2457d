package model

import (
	"maps"
	"time"
)

// Unknown is the placeholder used for agent fields that were never supplied.
const Unknown = "unknown"

// Well-known metric names. Metrics is an open map; these are the keys the
// dashboard and aggregator look for.
const (
	MetricExecutionTimeMS = "execution_time_ms"
	MetricTokensUsed      = "tokens_used"
	MetricCost            = "cost"
	MetricMemoryMB        = "memory_mb"
)

// AgentContext identifies the autonomous agent that performed an operation.
type AgentContext struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Category string `json:"category"`
}

// ExecutionContext ties an entry to the operation it describes.
type ExecutionContext struct {
	CorrelationID string `json:"correlation_id"`
	SessionID     string `json:"session_id"`
	TaskID        string `json:"task_id"`
	Operation     string `json:"operation"`
	Target        string `json:"target"`
}

// Metrics holds numeric measurements such as execution time, tokens and cost.
type Metrics map[string]float64

// RBACDecision is present only when an authorization check occurred.
type RBACDecision struct {
	Decision          string `json:"decision"`
	PermissionChecked string `json:"permission_checked"`
	Reason            string `json:"reason,omitempty"`
}

// ErrorInfo is the canonical shape of an error attached to an entry.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Error makes ErrorInfo usable as an error value, so a decoded entry's error
// can be attached to a new entry unchanged.
func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// LogEntry is a single structured record. The agent and execution groups are
// always present so consumers can rely on a stable shape.
type LogEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Level     Level            `json:"level"`
	Message   string           `json:"message"`
	Agent     AgentContext     `json:"agent"`
	Execution ExecutionContext `json:"execution"`
	Metrics   Metrics          `json:"metrics"`
	RBAC      *RBACDecision    `json:"rbac,omitempty"`
	Error     *ErrorInfo       `json:"error,omitempty"`
	Quality   map[string]any   `json:"quality,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// AgentName returns the agent name, or Unknown when unset.
func (e LogEntry) AgentName() string {
	if e.Agent.Name == "" {
		return Unknown
	}
	return e.Agent.Name
}

// Clone returns a copy of e that shares no maps or pointers with it. Values
// nested inside Quality and Metadata are copied by reference.
func (e LogEntry) Clone() LogEntry {
	e.Metrics = maps.Clone(e.Metrics)
	e.Quality = maps.Clone(e.Quality)
	e.Metadata = maps.Clone(e.Metadata)
	if e.RBAC != nil {
		r := *e.RBAC
		e.RBAC = &r
	}
	if e.Error != nil {
		x := *e.Error
		e.Error = &x
	}
	return e
}

// DefaultAgent fills empty agent fields with the Unknown placeholder.
func DefaultAgent(a AgentContext) AgentContext {
	if a.AgentID == "" {
		a.AgentID = Unknown
	}
	if a.Name == "" {
		a.Name = Unknown
	}
	if a.Role == "" {
		a.Role = Unknown
	}
	if a.Category == "" {
		a.Category = Unknown
	}
	return a
}

// Filter selects entries. Every field is optional and the supplied ones are
// applied conjunctively.
type Filter struct {
	Level         string    `json:"level,omitempty" form:"level"`
	AgentName     string    `json:"agent_name,omitempty" form:"agent_name"`
	CorrelationID string    `json:"correlation_id,omitempty" form:"correlation_id"`
	StartTime     time.Time `json:"start_time,omitempty" form:"start_time"`
	EndTime       time.Time `json:"end_time,omitempty" form:"end_time"`
	Limit         int       `json:"limit,omitempty" form:"limit"`
	// Expr is an optional CEL expression evaluated against each entry.
	Expr string `json:"expr,omitempty" form:"expr"`
}

// DefaultLimit is the number of results returned when Filter.Limit is unset.
const DefaultLimit = 100

// EffectiveLimit returns Limit, or DefaultLimit when Limit is not positive.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}
