// Package query compiles a model.Filter into a predicate that both the
// memory index and the file archive apply to entries.
package query

import (
	"fmt"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
)

// Matcher is a compiled, conjunctive filter.
type Matcher struct {
	hasLevel      bool
	minLevel      model.Level
	agentName     string
	correlationID string
	start         time.Time
	end           time.Time
	limit         int
	expr          celFilter
}

// Compile validates f and returns a Matcher. An unknown level name or an
// invalid expression is an error.
func Compile(f model.Filter) (*Matcher, error) {
	m := &Matcher{
		agentName:     f.AgentName,
		correlationID: f.CorrelationID,
		start:         f.StartTime,
		end:           f.EndTime,
		limit:         f.EffectiveLimit(),
	}
	if f.Level != "" {
		lvl, err := model.ParseLevel(f.Level)
		if err != nil {
			return nil, err
		}
		m.hasLevel = true
		m.minLevel = lvl
	}
	expr, err := newCELFilter(f.Expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	m.expr = expr
	return m, nil
}

// MustCompile is Compile for filters known to be valid.
func MustCompile(f model.Filter) *Matcher {
	m, err := Compile(f)
	if err != nil {
		panic(err)
	}
	return m
}

// Limit is the maximum number of results the caller should return.
func (m *Matcher) Limit() int { return m.limit }

// MinLevel returns the level bound and whether one was set.
func (m *Matcher) MinLevel() (model.Level, bool) { return m.minLevel, m.hasLevel }

// AgentName returns the required agent name, or "".
func (m *Matcher) AgentName() string { return m.agentName }

// CorrelationID returns the required correlation id, or "".
func (m *Matcher) CorrelationID() string { return m.correlationID }

// InRange reports whether ts lies within the inclusive time bounds.
func (m *Matcher) InRange(ts time.Time) bool {
	if !m.start.IsZero() && ts.Before(m.start) {
		return false
	}
	if !m.end.IsZero() && ts.After(m.end) {
		return false
	}
	return true
}

// Match applies every supplied predicate to e.
func (m *Matcher) Match(e *model.LogEntry) bool {
	if m.hasLevel && e.Level < m.minLevel {
		return false
	}
	if m.agentName != "" && e.Agent.Name != m.agentName {
		return false
	}
	if m.correlationID != "" && e.Execution.CorrelationID != m.correlationID {
		return false
	}
	if !m.InRange(e.Timestamp) {
		return false
	}
	return m.expr.Eval(e)
}

// Tail returns the last n elements of entries.
func Tail(entries []model.LogEntry, n int) []model.LogEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
